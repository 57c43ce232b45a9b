// Package normalize maps loosely-typed profile records onto the fixed shape
// every render target consumes.
package normalize

// Schema is a fully populated profile. Identity strings are never empty and
// collections are never nil, so templates only branch on emptiness.
type Schema struct {
	Name     string `json:"name" yaml:"name"`
	Username string `json:"username" yaml:"username"`
	Title    string `json:"title" yaml:"title"`
	Email    string `json:"email" yaml:"email"`
	Phone    string `json:"phone" yaml:"phone"`
	Location string `json:"location" yaml:"location"`
	Address  string `json:"address" yaml:"address"`
	PhotoURL string `json:"photoUrl" yaml:"photoUrl"`
	// Bio is sanitized HTML.
	Bio string `json:"bio" yaml:"bio"`

	Experience            []any `json:"experience" yaml:"experience"`
	MedicalExperience     []any `json:"medicalExperience" yaml:"medicalExperience"`
	EngineeringExperience []any `json:"engineeringExperience" yaml:"engineeringExperience"`
	Education             []any `json:"education" yaml:"education"`
	Certifications        []any `json:"certifications" yaml:"certifications"`
	Achievements          []any `json:"achievements" yaml:"achievements"`
	Projects              []any `json:"projects" yaml:"projects"`
	Publications          []any `json:"publications" yaml:"publications"`
	Conferences           []any `json:"conferences" yaml:"conferences"`
	Internships           []any `json:"internships" yaml:"internships"`
	Skills                []any `json:"skills" yaml:"skills"`
	Languages             []any `json:"languages" yaml:"languages"`
	Interests             []any `json:"interests" yaml:"interests"`

	Memberships []string     `json:"memberships" yaml:"memberships"`
	SocialLinks []SocialLink `json:"socialLinks" yaml:"socialLinks"`

	PrimarySpecialization    string   `json:"primarySpecialization" yaml:"primarySpecialization"`
	SecondarySpecializations []string `json:"secondarySpecializations" yaml:"secondarySpecializations"`
	BoardCertifications      []string `json:"boardCertifications" yaml:"boardCertifications"`
	Services                 []string `json:"services" yaml:"services"`

	Category string `json:"category" yaml:"category"`
}

type SocialLink struct {
	Platform string `json:"platform" yaml:"platform"`
	URL      string `json:"url" yaml:"url"`
}

// Placeholders for identity fields with no usable value.
const (
	PlaceholderName     = "[Your Name]"
	PlaceholderUsername = "[Username]"
	PlaceholderTitle    = "[Professional Title]"
	PlaceholderEmail    = "[Email Address]"
	PlaceholderPhone    = "[Phone Number]"
	PlaceholderLocation = "[Location]"
	PlaceholderAddress  = "[Address]"
	PlaceholderPhoto    = "[Profile Photo]"
	PlaceholderBio      = "[Your professional bio]"

	// FallbackSpecialization is the primary specialization when neither a
	// title nor a matching certification exists.
	FallbackSpecialization = "General Medicine"
	// UnknownMembership labels membership entries that carry no name.
	UnknownMembership = "Unknown Membership"
)

// Family groups categories that share field aliases.
type Family string

const (
	FamilyGeneric     Family = "generic"
	FamilyMedical     Family = "medical"
	FamilyEngineering Family = "engineering"
	FamilyDeveloper   Family = "developer"
)

var familyByCategory = map[string]Family{
	"medical":            FamilyMedical,
	"cardiologist":       FamilyMedical,
	"dentist":            FamilyMedical,
	"pediatrician":       FamilyMedical,
	"dermatologist":      FamilyMedical,
	"neurologist":        FamilyMedical,
	"orthopedic-surgeon": FamilyMedical,
	"psychiatrist":       FamilyMedical,
	"gynecologist":       FamilyMedical,
	"ophthalmologist":    FamilyMedical,
	"general-physician":  FamilyMedical,
	"radiologist":        FamilyMedical,
	"surgeon":            FamilyMedical,
	"nurse":              FamilyMedical,

	"engineering":               FamilyEngineering,
	"civil-engineer":            FamilyEngineering,
	"mechanical-engineer":       FamilyEngineering,
	"electrical-engineer":       FamilyEngineering,
	"chemical-engineer":         FamilyEngineering,
	"computer-science-engineer": FamilyEngineering,

	"developer":            FamilyDeveloper,
	"frontend-developer":   FamilyDeveloper,
	"backend-developer":    FamilyDeveloper,
	"full-stack-developer": FamilyDeveloper,
	"data-scientist":       FamilyDeveloper,
	"devops-engineer":      FamilyDeveloper,
	"mobile-developer":     FamilyDeveloper,
}

// FamilyOf returns the family for a category hint; unknown hints are generic.
func FamilyOf(category string) Family {
	if f, ok := familyByCategory[category]; ok {
		return f
	}
	return FamilyGeneric
}

package normalize

import (
	"strings"

	"github.com/kalambet/folio/internal/profile"
)

type identityField struct {
	placeholder string
	aliases     map[Family][]string // FamilyGeneric is the default row
}

var (
	nameField     = identityField{PlaceholderName, map[Family][]string{FamilyGeneric: {"fullName", "name"}}}
	usernameField = identityField{PlaceholderUsername, map[Family][]string{FamilyGeneric: {"username"}}}
	titleField    = identityField{PlaceholderTitle, map[Family][]string{
		FamilyGeneric:     {"professionalTitle", "title", "headline"},
		FamilyMedical:     {"specialization", "professionalTitle", "title"},
		FamilyEngineering: {"designation", "professionalTitle", "title"},
	}}
	emailField    = identityField{PlaceholderEmail, map[Family][]string{FamilyGeneric: {"email"}}}
	phoneField    = identityField{PlaceholderPhone, map[Family][]string{FamilyGeneric: {"phone", "phoneNumber"}}}
	locationField = identityField{PlaceholderLocation, map[Family][]string{FamilyGeneric: {"location", "city"}}}
	addressField  = identityField{PlaceholderAddress, map[Family][]string{
		FamilyGeneric: {"address"},
		FamilyMedical: {"clinicAddress", "address"},
	}}
	photoField = identityField{PlaceholderPhoto, map[Family][]string{FamilyGeneric: {"profilePhoto", "photoUrl", "avatar"}}}
	bioField   = identityField{PlaceholderBio, map[Family][]string{FamilyGeneric: {"bio", "summary", "about"}}}
)

func (f identityField) resolve(raw profile.Record, family Family) string {
	keys, ok := f.aliases[family]
	if !ok {
		keys = f.aliases[FamilyGeneric]
	}
	if v := strings.TrimSpace(raw.String(keys...)); v != "" {
		return v
	}
	return f.placeholder
}

// Normalize maps raw onto a Schema for the given category hint. It never
// fails and accepts a nil record.
func Normalize(raw profile.Record, category string) Schema {
	family := FamilyOf(category)
	certs := certificationNames(raw.List("certifications"))

	s := Schema{
		Name:     nameField.resolve(raw, family),
		Username: usernameField.resolve(raw, family),
		Title:    titleField.resolve(raw, family),
		Email:    emailField.resolve(raw, family),
		Phone:    phoneField.resolve(raw, family),
		Location: locationField.resolve(raw, family),
		Address:  addressField.resolve(raw, family),
		PhotoURL: photoField.resolve(raw, family),
		Bio:      PlaceholderBio,

		Experience:            collection(raw, "experience"),
		MedicalExperience:     collection(raw, "medicalExperience"),
		EngineeringExperience: collection(raw, "engineeringExperience"),
		Education:             collection(raw, "education"),
		Certifications:        collection(raw, "certifications"),
		Achievements:          collection(raw, "achievements"),
		Projects:              collection(raw, "projects"),
		Publications:          collection(raw, "publications"),
		Conferences:           collection(raw, "conferences"),
		Internships:           collection(raw, "internships"),
		Skills:                collection(raw, "skills"),
		Languages:             collection(raw, "languages"),
		Interests:             collection(raw, "interests"),

		Memberships: memberships(raw.List("professionalMemberships")),
		SocialLinks: socialLinks(raw["socialLinks"]),

		PrimarySpecialization:    primarySpecialization(raw, certs),
		SecondarySpecializations: matching(certs, "specialist", "fellowship"),
		BoardCertifications:      matching(certs, "board"),
		Services:                 services(raw, category),

		Category: category,
	}
	if bio := SanitizeBio(bioField.resolve(raw, family)); bio != "" {
		s.Bio = bio
	}
	return s
}

func collection(raw profile.Record, key string) []any {
	if l := raw.List(key); l != nil {
		return l
	}
	return []any{}
}

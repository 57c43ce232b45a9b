package normalize

import (
	"strings"

	"github.com/kalambet/folio/internal/profile"
)

const maxSynthesizedServices = 3

var genericServices = []string{
	"Comprehensive Consultations",
	"Personalized Treatment Plans",
	"Preventive Care & Follow-up",
}

var specialtyServices = map[string][]string{
	"cardiologist":       {"ECG & Echocardiography", "Cardiac Risk Assessment", "Hypertension Management"},
	"dentist":            {"Teeth Cleaning & Whitening", "Root Canal Treatment", "Dental Implants"},
	"pediatrician":       {"Child Wellness Exams", "Vaccinations", "Growth & Development Monitoring"},
	"dermatologist":      {"Acne & Eczema Treatment", "Skin Cancer Screening", "Cosmetic Dermatology"},
	"neurologist":        {"EEG & Nerve Studies", "Migraine Management", "Stroke Rehabilitation"},
	"orthopedic-surgeon": {"Joint Replacement", "Sports Injury Repair", "Fracture Care"},
	"psychiatrist":       {"Psychiatric Evaluation", "Medication Management", "Psychotherapy"},
	"gynecologist":       {"Prenatal Care", "Pap Smear Screening", "Fertility Consultation"},
	"ophthalmologist":    {"Comprehensive Eye Exams", "Cataract Surgery", "Glaucoma Management"},
	"general-physician":  {"Annual Physicals", "Chronic Disease Management", "Minor Procedures"},
	"radiologist":        {"X-Ray & CT Imaging", "MRI Interpretation", "Ultrasound"},
	"surgeon":            {"Pre-operative Assessment", "Minimally Invasive Surgery", "Post-operative Care"},
	"nurse":              {"Patient Care Planning", "Medication Administration", "Health Education"},
}

// serviceKeywords are matched in order; the first hit names the service.
var serviceKeywords = []string{"treatment", "consultation", "procedure", "therapy", "care"}

// services is the generic list, then the category's own services, then up to
// three entries synthesized from experience descriptions.
func services(raw profile.Record, category string) []string {
	out := make([]string, 0, len(genericServices)+maxSynthesizedServices+3)
	out = append(out, genericServices...)
	out = append(out, specialtyServices[category]...)

	entries := append(append([]any{}, raw.List("medicalExperience")...), raw.List("experience")...)
	var synthesized int
	for _, e := range entries {
		if synthesized == maxSynthesizedServices {
			break
		}
		desc, ok := profile.Text(e, "description")
		if !ok {
			continue
		}
		if kw := firstKeyword(desc); kw != "" {
			out = append(out, strings.ToUpper(kw[:1])+kw[1:]+" Services")
			synthesized++
		}
	}
	return out
}

func firstKeyword(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range serviceKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}

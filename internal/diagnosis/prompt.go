package diagnosis

import (
	"fmt"
	"os"
	"strings"
)

// Placeholder marks where the transcript is substituted into a template.
const Placeholder = "{{transcript}}"

// DefaultTemplate asks the model for a diagnoses section fenced by $$$ and a
// follow-up questions section fenced by !!!.
const DefaultTemplate = `
You're an expert medical consultant with extensive experience in interpreting patient-doctor conversations. Your expertise lies in identifying potential diagnoses based on symptom descriptions and medical history while also understanding the follow-up questions that would aid in clarifying the patient's condition.
Your task is to analyze a transcript between a patient and a doctor. Here is the transcript you will be working with:
Transcript: {{transcript}}
Please provide two distinct sections in your response. The first section should present the top diagnoses in reverse order of possibility, enclosed within
$$$
    Possible diagnosis 1
    Possible diagnosis 2
$$$.
The second section should outline the next questions for the doctor to ask the patient, enclosed within
!!!
    question 1
    question 2
!!!.
Keep in mind that the diagnoses should reflect the nuances of the conversation and the symptoms described, while the questions should be relevant to gathering more critical information for accurate assessment.
If we do not have enough information to make a diagnosis mention not enough information in the corresponding section.
If information is not available mention information not available in the corresponding section.
Example response:
$$$
    Gastroenteritis : Viral or bacterial infection of the stomach and intestines
    Gastritis : Inflammation of the stomach lining
$$$
!!!
    Can you describe the pain in more detail? Where exactly is the pain located? Is it sharp, burning, cramping, or dull?
    Have you had any other symptoms like nausea, vomiting, diarrhea, constipation, fever, or loss of appetite?
!!!
`

// LoadTemplate reads a prompt template from path, or returns DefaultTemplate
// when path is empty.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return DefaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt template: %w", err)
	}
	tmpl := string(data)
	if !strings.Contains(tmpl, Placeholder) {
		return "", fmt.Errorf("prompt template %s has no %s placeholder", path, Placeholder)
	}
	return tmpl, nil
}

// Fill substitutes the first placeholder occurrence with transcript.
func Fill(template, transcript string) string {
	return strings.Replace(template, Placeholder, transcript, 1)
}

package fixture

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// ImageQuestions is the built-in question catalog for image fixtures.
var ImageQuestions = []string{
	"What do you see in this image?",
	"Describe the content of this image concisely.",
	"What's in the image?",
	"Where is this image taken?",
	"Summarize the content of this image in one sentence.",
	"What's the main subject of this image?",
	"What's the background of this image?",
	"What's the color of the background?",
	"What's the texture of the background?",
	"How many objects can you count in this image?",
	"What emotions or mood does this image convey?",
	"What time of day do you think this photo was taken?",
	"Are there any people visible in this image?",
	"What style or genre would you classify this image as?",
	"What details can you notice about the lighting?",
	"What is the meaning of this image?",
	"How would you name this image?",
	"What do you find most interesting about this image?",
	"What is the message of this image?",
	"What is the moral of this image?",
	"What did you learn from this image about B2B SaaS?",
}

// TextQuestions is the built-in question catalog for text fixtures.
var TextQuestions = []string{
	"What is the main topic of this text?",
	"Summarize this text in one sentence.",
	"What is the key message in this text?",
	"What genre or type of writing is this?",
	"What is the tone of this text?",
	"Who is the intended audience for this text?",
	"What emotions does this text convey?",
	"What is the author's main argument?",
	"What evidence does the text provide?",
	"What conclusions can you draw from this text?",
	"What is the most important sentence in this text?",
	"What questions does this text raise?",
	"What is the writing style of this text?",
	"What themes are present in this text?",
	"What is the purpose of this text?",
	"What did you learn from this text?",
	"How would you categorize this text?",
	"What is the central idea of this text?",
	"What perspective does this text represent?",
	"What makes this text compelling or interesting?",
}

type catalogFile struct {
	Questions []string `yaml:"questions"`
}

// LoadQuestions reads a YAML question catalog of the form `questions: [...]`.
// Blank entries are dropped.
func LoadQuestions(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question catalog %q: %w", path, err)
	}

	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse question catalog %q: %w", path, err)
	}

	questions := make([]string, 0, len(cat.Questions))
	for _, q := range cat.Questions {
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) == 0 {
		return nil, errors.New("question catalog " + path + " has no questions")
	}
	return questions, nil
}

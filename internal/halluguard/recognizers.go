package halluguard

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/1274866478-stack/data-agent-sub005/patterns"
)

// Recognizer is one configurable fabrication signature. The regex is
// matched against the final answer text.
type Recognizer struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
}

type recognizerFile struct {
	Recognizers []Recognizer `yaml:"recognizers"`
}

type compiledRecognizer struct {
	name    string
	pattern *regexp.Regexp
}

// DefaultRecognizers returns the embedded default fabrication signatures.
func DefaultRecognizers() ([]Recognizer, error) {
	var rf recognizerFile
	if err := yaml.Unmarshal(patterns.FabricationYAML(), &rf); err != nil {
		return nil, fmt.Errorf("parsing embedded fabrication recognizers: %w", err)
	}
	return rf.Recognizers, nil
}

// LoadRecognizerFile reads additional recognizers from a YAML file. A
// missing file is not an error; it returns an empty slice.
func LoadRecognizerFile(path string) ([]Recognizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading recognizer file: %w", err)
	}
	var rf recognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer file %s: %w", path, err)
	}
	return rf.Recognizers, nil
}

func compileRecognizers(recs []Recognizer) ([]compiledRecognizer, error) {
	compiled := make([]compiledRecognizer, 0, len(recs))
	for _, r := range recs {
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("compiling recognizer %q: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRecognizer{name: r.Name, pattern: re})
	}
	return compiled, nil
}

package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/matterstack/matterstack/internal/models"
)

// taskSpec is the user-facing shape of one task in a workflow file, which
// the init command reads to build the run's initial workflow.
type taskSpec struct {
	TaskID                 string            `yaml:"task_id"`
	OperatorKey            string            `yaml:"operator_key"`
	Image                  string            `yaml:"image"`
	Command                string            `yaml:"command"`
	Files                  []string          `yaml:"files"`
	Env                    map[string]string `yaml:"env"`
	Dependencies           []string          `yaml:"dependencies"`
	Cores                  int               `yaml:"cores"`
	MemoryGB               float64           `yaml:"memory_gb"`
	GPUs                   int               `yaml:"gpus"`
	TimeLimitMinutes       int               `yaml:"time_limit_minutes"`
	AllowDependencyFailure bool              `yaml:"allow_dependency_failure"`
	AllowFailure           bool              `yaml:"allow_failure"`
	DownloadPatterns       []string          `yaml:"download_patterns"`
}

type workflowSpec struct {
	Tasks []taskSpec `yaml:"tasks"`
}

// loadWorkflowSpec reads a workflow definition file (YAML) and converts
// it into the Task rows initialize_run needs. Defaults mirror the store's
// column defaults so an operator-less, cores-less task still runs.
func loadWorkflowSpec(path string) ([]models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow spec %s: %w", path, err)
	}

	var spec workflowSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse workflow spec %s: %w", path, err)
	}
	if len(spec.Tasks) == 0 {
		return nil, fmt.Errorf("workflow spec %s declares no tasks", path)
	}

	tasks := make([]models.Task, 0, len(spec.Tasks))
	for _, ts := range spec.Tasks {
		if ts.TaskID == "" {
			return nil, fmt.Errorf("workflow spec %s: task missing task_id", path)
		}
		cores := ts.Cores
		if cores == 0 {
			cores = 1
		}
		memGB := ts.MemoryGB
		if memGB == 0 {
			memGB = 1.0
		}
		timeLimit := ts.TimeLimitMinutes
		if timeLimit == 0 {
			timeLimit = 60
		}

		tasks = append(tasks, models.Task{
			TaskID:                 ts.TaskID,
			OperatorKey:            ts.OperatorKey,
			Status:                 models.TaskStatusPending,
			Image:                  ts.Image,
			Command:                ts.Command,
			Files:                  ts.Files,
			Env:                    ts.Env,
			Dependencies:           ts.Dependencies,
			Cores:                  cores,
			MemoryGB:               memGB,
			GPUs:                   ts.GPUs,
			TimeLimitMinutes:       timeLimit,
			AllowDependencyFailure: ts.AllowDependencyFailure,
			AllowFailure:           ts.AllowFailure,
			DownloadPatterns:       ts.DownloadPatterns,
		})
	}
	return tasks, nil
}

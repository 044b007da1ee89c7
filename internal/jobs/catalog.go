package jobs

import "strings"

// Job 描述一个可用的远端智能体。
type Job struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	UseCase     string `json:"use_case"`
}

// 远端支持的智能体名称。
const (
	Crow    = "CROW"
	Falcon  = "FALCON"
	Owl     = "OWL"
	Phoenix = "PHOENIX"
	Dummy   = "DUMMY"
)

// catalog 是固定的智能体清单，不依赖远端状态。
var catalog = []Job{
	{
		Name:        Crow,
		Description: "通用文献检索智能体，返回带引用的简明回答",
		UseCase:     "一般科学问题",
	},
	{
		Name:        Falcon,
		Description: "面向深度文献综述的智能体",
		UseCase:     "科学文献的深入综合",
	},
	{
		Name:        Owl,
		Description: "回答\"是否已有人做过 X\"类问题的智能体",
		UseCase:     "科研先例检索",
	},
	{
		Name:        Phoenix,
		Description: "带化学信息学工具的化学智能体",
		UseCase:     "合成规划与分子设计",
	},
	{
		Name:        Dummy,
		Description: "测试任务",
		UseCase:     "测试与开发",
	},
}

// All 返回全部智能体清单的副本。
func All() []Job {
	jobs := make([]Job, len(catalog))
	copy(jobs, catalog)
	return jobs
}

// Names 返回全部智能体名称。
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, job := range catalog {
		names = append(names, job.Name)
	}
	return names
}

// Normalize 将 job_name 规范化为大写枚举形式。
func Normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Valid 检查给定名称是否为支持的智能体。
func Valid(name string) bool {
	normalized := Normalize(name)
	for _, job := range catalog {
		if job.Name == normalized {
			return true
		}
	}
	return false
}

// Lookup 按名称返回智能体描述。
func Lookup(name string) (Job, bool) {
	normalized := Normalize(name)
	for _, job := range catalog {
		if job.Name == normalized {
			return job, true
		}
	}
	return Job{}, false
}

package tools

import (
	"encoding/json"

	"github.com/nebulus-ai/nebulus/pkg/llm"
)

// Definitions returns the tool vocabulary in the shape the LLM client
// forwards to the model.
func Definitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		def("read_file",
			"Read a file from the workspace. Optionally slice by 1-indexed line range.",
			`{"type":"object","properties":{
				"path":{"type":"string","description":"Workspace-relative path"},
				"start_line":{"type":"integer"},
				"end_line":{"type":"integer"}
			},"required":["path"]}`),
		def("write_file",
			"Create or overwrite a file. Parent directories are created as needed.",
			`{"type":"object","properties":{
				"path":{"type":"string"},
				"content":{"type":"string"}
			},"required":["path","content"]}`),
		def("edit_file",
			"Replace the first occurrence of old_text with new_text in a file.",
			`{"type":"object","properties":{
				"path":{"type":"string"},
				"old_text":{"type":"string"},
				"new_text":{"type":"string"}
			},"required":["path","old_text","new_text"]}`),
		def("list_directory",
			"List directory entries. Hidden entries and build caches are excluded.",
			`{"type":"object","properties":{
				"path":{"type":"string"},
				"recursive":{"type":"boolean"}
			}}`),
		def("search_files",
			"Case-insensitive regex search across workspace files.",
			`{"type":"object","properties":{
				"pattern":{"type":"string"},
				"path":{"type":"string"},
				"file_glob":{"type":"string"}
			},"required":["pattern"]}`),
		def("glob_files",
			"Find files matching a glob pattern, workspace-relative.",
			`{"type":"object","properties":{
				"pattern":{"type":"string"}
			},"required":["pattern"]}`),
		def("run_command",
			"Run a shell command with the workspace as working directory.",
			`{"type":"object","properties":{
				"command":{"type":"string"},
				"timeout":{"type":"integer","description":"Seconds, default 60"}
			},"required":["command"]}`),
		def("list_skills",
			"List available skills.",
			`{"type":"object","properties":{}}`),
		def("use_skill",
			"Load a skill's instructions by name.",
			`{"type":"object","properties":{
				"name":{"type":"string"}
			},"required":["name"]}`),
		def(ToolTaskComplete,
			"Signal that the task is fully implemented. Terminal.",
			`{"type":"object","properties":{
				"summary":{"type":"string"},
				"files_changed":{"type":"array","items":{"type":"string"}}
			},"required":["summary"]}`),
		def(ToolTaskBlocked,
			"Signal that the task cannot proceed. Terminal.",
			`{"type":"object","properties":{
				"reason":{"type":"string"},
				"blocker_type":{"type":"string","enum":["missing_info","too_complex","unclear_requirements","external_dependency"]},
				"question":{"type":"string"}
			},"required":["reason","blocker_type"]}`),
	}
}

func def(name, description, schema string) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  json.RawMessage(schema),
	}
}

package fstool

import "github.com/skosovsky/toolwire"

func pathField(desc string) toolwire.Field {
	return toolwire.Field{Name: "path", Shape: toolwire.ShapeString, Required: true, Description: desc}
}

func multiReplaceSchema() toolwire.ToolSchema {
	return toolwire.ToolSchema{
		Name: MultiReplaceName,
		Description: "Replace exact text in one or more files. Each edit is applied on its own; " +
			"edits that do not match are reported and the rest are committed.",
		Fields: []toolwire.Field{{
			Name:        "edits",
			Shape:       toolwire.ShapeArray,
			Required:    true,
			MinItems:    1,
			ItemTag:     "edit",
			Description: "Edits applied in order, grouped per file",
			Fields: []toolwire.Field{
				pathField("File to edit, relative to the workspace root"),
				{Name: "old_string", Shape: toolwire.ShapeString, Required: true, Description: "Exact text to replace"},
				{Name: "new_string", Shape: toolwire.ShapeString, Description: "Replacement text; empty deletes"},
				{Name: "replace_all", Shape: toolwire.ShapeBoolean, Description: "Replace every occurrence"},
			},
		}},
	}
}

func writeFileSchema() toolwire.ToolSchema {
	return toolwire.ToolSchema{
		Name:        WriteFileName,
		Description: "Create or overwrite a file with the given content.",
		Fields: []toolwire.Field{
			pathField("File to write, relative to the workspace root"),
			{Name: "content", Shape: toolwire.ShapeString, Required: true, Description: "Full file content"},
		},
	}
}

func readFileSchema() toolwire.ToolSchema {
	one := 1.0
	return toolwire.ToolSchema{
		Name:        ReadFileName,
		Description: "Read a text file. Optionally restrict to a 1-based line range.",
		Fields: []toolwire.Field{
			pathField("File to read, relative to the workspace root"),
			{Name: "start_line", Shape: toolwire.ShapeNumber, Minimum: &one, Description: "First line to return"},
			{Name: "end_line", Shape: toolwire.ShapeNumber, Minimum: &one, Description: "Last line to return"},
		},
	}
}

func findFilesSchema() toolwire.ToolSchema {
	return toolwire.ToolSchema{
		Name:        FindFilesName,
		Description: "List files matching a glob pattern such as **/*.go, relative to the workspace root.",
		Fields: []toolwire.Field{
			{Name: "pattern", Shape: toolwire.ShapeString, Required: true, Description: "Glob pattern; ** matches any depth"},
			{Name: "path", Shape: toolwire.ShapeString, Description: "Directory to search from"},
		},
	}
}

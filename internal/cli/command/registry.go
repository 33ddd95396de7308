package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	idField := Field{Name: "id", Aliases: []string{"submission_id"}, Prompt: "submission_id", Type: FieldString, Required: true}
	commands := []Command{
		{
			Service:      "submission",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "problem_id", Aliases: []string{"problem"}, Prompt: "problem_id", Type: FieldString, Required: true},
				{Name: "language", Aliases: []string{"lang"}, Prompt: "language", Type: FieldString, Required: true},
				{Name: "code", Prompt: "code", Type: FieldString, Required: true},
				{Name: "contest_id", Aliases: []string{"contest"}, Prompt: "contest_id", Type: FieldString},
				{Name: "idempotency_key", Prompt: "idempotency_key", Type: FieldString},
				{Name: "code_file", Aliases: []string{"file"}, Prompt: "code_file", Type: FieldFile},
				{Name: "watch", Prompt: "watch", Type: FieldBool},
			},
		},
		{
			Service:      "submission",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			RequiresAuth: true,
			Fields:       []Field{idField},
		},
		{
			Service:      "submission",
			Action:       "status",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/status",
			RequiresAuth: true,
			Fields:       []Field{idField},
		},
		{
			Service:      "submission",
			Action:       "report",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/report",
			RequiresAuth: true,
			Fields:       []Field{idField, {Name: "generation", Aliases: []string{"gen"}, Prompt: "generation", Type: FieldInt, Query: true}},
		},
		{
			Service:      "submission",
			Action:       "rerun",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions/:id/rerun",
			RequiresAuth: true,
			Fields:       []Field{idField, {Name: "watch", Prompt: "watch", Type: FieldBool}},
		},
		{
			Service:      "submission",
			Action:       "watch",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id/status",
			RequiresAuth: true,
			Fields:       []Field{idField},
			Watch:        true,
		},
		{
			Service:      "contest",
			Action:       "leaderboard",
			Method:       "GET",
			PathTemplate: "/api/v1/contests/:id/leaderboard",
			RequiresAuth: true,
			Fields: []Field{
				{Name: "id", Aliases: []string{"contest_id"}, Prompt: "contest_id", Type: FieldString, Required: true},
				{Name: "limit", Prompt: "limit", Type: FieldInt, Query: true},
				{Name: "detail", Prompt: "detail", Type: FieldBool, Query: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// WantsWatch reports whether the user asked to follow the submission after
// the request.
func WantsWatch(cmd Command, params Params) bool {
	if cmd.Watch {
		return true
	}
	if !params.Has("watch") {
		return false
	}
	v, err := ParseBool(params.Get("watch"))
	return err == nil && v
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}
	query, err := buildQuery(cmd.Fields, params)
	if err != nil {
		return RequestSpec{}, err
	}
	if query != "" {
		path += "?" + query
	}

	headers := map[string]string{}
	if cmd.Service == "submission" && cmd.Action == "create" {
		headers["Idempotency-Key"] = params.Get("idempotency_key")
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := strings.TrimSpace(params.Get("id"))
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", url.PathEscape(value))
	}
	return path, nil
}

func buildQuery(fields []Field, params Params) (string, error) {
	values := url.Values{}
	for _, field := range fields {
		if !field.Query || params.Get(field.Name) == "" {
			continue
		}
		value := params.Get(field.Name)
		switch field.Type {
		case FieldInt:
			if _, err := ParseInt(value); err != nil {
				return "", fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		case FieldBool:
			if _, err := ParseBool(value); err != nil {
				return "", fmt.Errorf("invalid %s: %w", field.Name, err)
			}
		}
		values.Set(field.Name, value)
	}
	return values.Encode(), nil
}

func buildPayload(cmd Command, params Params) (any, error) {
	if cmd.Service == "submission" && cmd.Action == "create" {
		return buildCreatePayload(params)
	}
	return nil, nil
}

func buildCreatePayload(params Params) (any, error) {
	code := params.Get("code")
	if (code == "" || code == "_file_") && params.Get("code_file") != "" {
		var err error
		code, err = ReadFile(params.Get("code_file"))
		if err != nil {
			return nil, err
		}
	}
	if code == "" || code == "_file_" {
		return nil, fmt.Errorf("code is required")
	}

	payload := map[string]any{
		"problemId": params.Get("problem_id"),
		"language":  params.Get("language"),
		"code":      code,
	}
	if params.Get("contest_id") != "" {
		payload["contestId"] = params.Get("contest_id")
	}
	return payload, nil
}

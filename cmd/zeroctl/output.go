package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Formatter renders a command result.
type Formatter interface {
	Format(data any) (string, error)
}

func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return textFormatter{}, nil
	case "json":
		return jsonFormatter{}, nil
	case "yaml":
		return yamlFormatter{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q (supported: text, json, yaml)", format)
	}
}

// textFormatter prints one aligned "name  value" row per struct field,
// using the yaml tag as the name.
type textFormatter struct{}

func (textFormatter) Format(data any) (string, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Sprintf("%v\n", data), nil
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if name == "" || name == "-" {
			name = strings.ToLower(t.Field(i).Name)
		}
		fmt.Fprintf(w, "%s\t%v\n", name, v.Field(i).Interface())
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type jsonFormatter struct{}

func (jsonFormatter) Format(data any) (string, error) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

type yamlFormatter struct{}

func (yamlFormatter) Format(data any) (string, error) {
	out, err := yaml.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

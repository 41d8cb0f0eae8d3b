package mywallet

import (
	"bytes"
	"encoding/json"
	"strings"
)

type object map[string]any

func decodeObject(body []byte) (object, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj object
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// str returns the value at key when it is a non-empty JSON string.
func (o object) str(key string) (string, bool) {
	v, ok := o[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (o object) integer(key string) (int64, bool) {
	n, ok := o[key].(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return i, err == nil
}

func (o object) nested(key string) (object, bool) {
	m, ok := o[key].(map[string]any)
	if !ok {
		return nil, false
	}
	return object(m), true
}

// firstStr looks up keys in order at the top level, then under "data".
func (o object) firstStr(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := o.str(k); ok {
			return v, true
		}
	}
	if data, ok := o.nested("data"); ok {
		for _, k := range keys {
			if v, ok := data.str(k); ok {
				return v, true
			}
		}
	}
	return "", false
}

// messages collects message, error and errors diagnostics from one level.
func (o object) messages() []string {
	var out []string
	msg, _ := o.str("message")
	if strings.TrimSpace(msg) != "" {
		out = append(out, msg)
	}
	if e, ok := o.str("error"); ok && strings.TrimSpace(e) != "" && e != msg {
		out = append(out, e)
	}
	switch errs := o["errors"].(type) {
	case string:
		if strings.TrimSpace(errs) != "" {
			out = append(out, errs)
		}
	case []any:
		for _, item := range errs {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DecodeRequest разбирает запрос из YAML или JSON (JSON является подмножеством YAML).
// Неизвестные поля считаются ошибкой.
func DecodeRequest(data []byte) (*SimRequest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var req SimRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

// LoadRequest читает запрос из файла
func LoadRequest(path string) (*SimRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return DecodeRequest(data)
}

// EncodeRequestYAML сериализует запрос в YAML
func EncodeRequestYAML(req *SimRequest) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadResult читает UnifiedResult из JSON файла
func LoadResult(path string) (*UnifiedResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	var res UnifiedResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", path, err)
	}
	return &res, nil
}

// SaveResult записывает UnifiedResult в JSON файл
func SaveResult(path string, res *UnifiedResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

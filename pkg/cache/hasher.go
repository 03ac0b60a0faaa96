package cache

import (
	"strings"

	"reservoir/pkg/domain"
)

const resultPrefix = "result"

// ResultKey ключ кэша результата: result:<backend>:<hash запроса>
func ResultKey(req *domain.SimRequest, backend string) string {
	hash := domain.RequestHash(req, backend)
	if hash == "" {
		return ""
	}
	return BuildResultKey(hash, backend)
}

// BuildResultKey строит ключ из готового хеша
func BuildResultKey(requestHash, backend string) string {
	return resultPrefix + ":" + strings.ToLower(backend) + ":" + requestHash
}

// BackendPattern шаблон всех результатов бэкенда
func BackendPattern(backend string) string {
	return resultPrefix + ":" + strings.ToLower(backend) + ":*"
}

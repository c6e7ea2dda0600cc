// Package validation содержит правила проверки воркфлоу и учётных данных.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/storage"
)

// Замечания, препятствующие публикации.
const (
	IssueTitleMissing        = "title is required"
	IssuePriceInvalid        = "price must be a non-negative amount"
	IssueDeliveryTypeMissing = "delivery type is required"
	IssueFileMissing         = "artifact file must be uploaded"
	IssueRemoteURLMissing    = "remote artifact URL must be set"
	IssueArtifactUnreadable  = "artifact file cannot be read"
	IssueInvalidJSON         = "artifact is not valid JSON"
	IssueInvalidYAML         = "artifact is not valid YAML"
)

// ErrMalformed возвращается CheckStructured для повреждённого содержимого.
var ErrMalformed = errors.New("malformed structured artifact")

// OpenFunc открывает артефакт по сохранённому расположению.
type OpenFunc func(location string) (io.ReadCloser, error)

// PublishIssues проверяет готовность воркфлоу к публикации и возвращает все нарушенные
// правила. Пустой результат означает, что публикация разрешена.
func PublishIssues(it *model.Item, open OpenFunc) []string {
	var issues []string

	if strings.TrimSpace(it.Title) == "" {
		issues = append(issues, IssueTitleMissing)
	}
	if it.Price.IsNegative() {
		issues = append(issues, IssuePriceInvalid)
	}

	switch it.DeliveryType {
	case model.DeliveryFile:
		// Файловый воркфлоу отдаётся только из локального хранилища.
		if it.ArtifactPath == "" || storage.IsRemote(it.ArtifactPath) {
			issues = append(issues, IssueFileMissing)
			break
		}
		if issue := structuredIssue(it.ArtifactPath, open); issue != "" {
			issues = append(issues, issue)
		}
	case model.DeliveryRemote:
		if !storage.IsRemote(it.ArtifactPath) {
			issues = append(issues, IssueRemoteURLMissing)
		}
	default:
		issues = append(issues, IssueDeliveryTypeMissing)
	}

	return issues
}

func structuredIssue(location string, open OpenFunc) string {
	format := formatOf(location)
	if format == "" {
		return ""
	}

	rc, err := open(location)
	if err != nil {
		return IssueArtifactUnreadable
	}
	defer rc.Close()

	if err := CheckStructured(format, rc); err != nil {
		if errors.Is(err, ErrMalformed) {
			if format == "json" {
				return IssueInvalidJSON
			}
			return IssueInvalidYAML
		}
		return IssueArtifactUnreadable
	}
	return ""
}

func formatOf(location string) string {
	lower := strings.ToLower(location)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	switch {
	case strings.HasSuffix(lower, ".json"):
		return "json"
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return "yaml"
	}
	return ""
}

// CheckStructured проверяет, что содержимое r является корректным документом в формате
// "json" или "yaml". Пустое содержимое считается некорректным.
func CheckStructured(format string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: empty document", ErrMalformed)
	}

	switch format {
	case "json":
		if !json.Valid(data) {
			return fmt.Errorf("%w: invalid json", ErrMalformed)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		for {
			var doc yaml.Node
			err := dec.Decode(&doc)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	return nil
}

// ItemFieldIssues проверяет заданные поля черновика. Незаданные поля не проверяются.
func ItemFieldIssues(p model.ItemPatch) []string {
	var issues []string

	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		issues = append(issues, IssueTitleMissing)
	}
	if p.Price != nil && (p.Price.IsNegative() || !p.Price.Equal(p.Price.Round(2))) {
		issues = append(issues, IssuePriceInvalid)
	}
	if p.Currency != nil && !isCurrencyCode(*p.Currency) {
		issues = append(issues, "currency must be a 3-letter code")
	}
	if p.DeliveryType != nil && *p.DeliveryType != "" && !p.DeliveryType.Valid() {
		issues = append(issues, "delivery type must be FILE or REMOTE")
	}

	return issues
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/grantflow/ranking"
	"github.com/BaSui01/grantflow/types"
)

// Request types accepted by the planner.
const (
	RequestComplianceCheck  = "compliance_check"
	RequestGrantSearch      = "grant_search"
	RequestDocumentDraft    = "document_draft"
	RequestGrantApplication = "grant_application"
)

// Payload keys.
const (
	KeyDocument     = "document"
	KeyDocumentRef  = "document_ref"
	KeyQuery        = ranking.KeyQuery
	KeyProfile      = ranking.KeyProfile
	KeyInstructions = "instructions"
	KeyDraftOptions = "draft_options"
	KeyOrganization = "organization"
)

// Keys written by planner steps.
const (
	KeyExtracted        = "extracted_fields"
	KeyCompliance       = "compliance"
	KeyComplianceStatus = "compliance_status"
	KeyShortlist        = ranking.KeyShortlist
	KeyPromptSpec       = "prompt_spec"
	KeyDraft            = "draft"
	KeyDraftRef         = "draft_ref"
	KeyProfileSummary   = "profile_summary"
	KeyApplication      = "application_draft"
)

// BudgetClass selects the time budget of a request type.
type BudgetClass string

const (
	BudgetGeneration BudgetClass = "generation"
	BudgetSearch     BudgetClass = "search"
	BudgetCompliance BudgetClass = "compliance"
)

// requestSpec 描述一种请求：预算类别与必填字段
type requestSpec struct {
	budget BudgetClass
	// required 中每一组至少出现一个键，例如 document|document_ref
	required [][]string
}

var requestSpecs = map[string]requestSpec{
	RequestComplianceCheck: {
		budget:   BudgetCompliance,
		required: [][]string{{KeyDocument, KeyDocumentRef}},
	},
	RequestGrantSearch: {
		budget:   BudgetSearch,
		required: [][]string{{KeyQuery}},
	},
	RequestDocumentDraft: {
		budget:   BudgetGeneration,
		required: [][]string{{KeyInstructions}},
	},
	RequestGrantApplication: {
		budget:   BudgetGeneration,
		required: [][]string{{KeyDocument, KeyDocumentRef}, {KeyQuery}, {KeyOrganization}},
	},
}

// RequestTypes returns the supported request types in name order.
func RequestTypes() []string {
	out := make([]string, 0, len(requestSpecs))
	for name := range requestSpecs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// BudgetFor returns the budget class of requestType.
func BudgetFor(requestType string) (BudgetClass, bool) {
	spec, ok := requestSpecs[requestType]
	return spec.budget, ok
}

// ValidatePayload checks that requestType is known and its required keys are present and
// well formed. The payload is not modified.
func ValidatePayload(requestType string, payload map[string]any) error {
	spec, ok := requestSpecs[requestType]
	if !ok {
		return types.Errorf(types.KindValidation, "unknown request type %q", requestType)
	}
	for _, group := range spec.required {
		present := 0
		for _, key := range group {
			if _, ok := payload[key]; ok {
				present++
			}
		}
		switch {
		case present == 0:
			return types.Errorf(types.KindValidation, "%s requires %s", requestType, strings.Join(group, " or "))
		case present > 1:
			return types.Errorf(types.KindValidation, "%s accepts only one of %s", requestType, strings.Join(group, ", "))
		}
	}

	for _, key := range []string{KeyQuery, KeyInstructions, KeyOrganization, KeyDocumentRef} {
		v, ok := payload[key]
		if !ok {
			continue
		}
		s, isString := v.(string)
		if !isString || strings.TrimSpace(s) == "" {
			return types.Errorf(types.KindValidation, "%s must be a non-empty string", key)
		}
	}
	if v, ok := payload[KeyDocument]; ok {
		if _, err := documentBytes(v); err != nil {
			return err
		}
	}
	if v, ok := payload[KeyProfile]; ok {
		if _, err := ranking.ParseProfile(v); err != nil {
			return err
		}
	}
	if v, ok := payload[KeyDraftOptions]; ok {
		if _, err := ParseDraftOptions(v); err != nil {
			return err
		}
	}
	return nil
}

// documentBytes 接受字符串或字节切片形式的文档
func documentBytes(v any) ([]byte, error) {
	switch d := v.(type) {
	case []byte:
		if len(d) == 0 {
			return nil, types.NewValidationError("document is empty")
		}
		return d, nil
	case string:
		if strings.TrimSpace(d) == "" {
			return nil, types.NewValidationError("document is empty")
		}
		return []byte(d), nil
	default:
		return nil, types.NewValidationError(fmt.Sprintf("document has type %T, want string", v))
	}
}

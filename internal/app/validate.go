package app

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"pagepush/api/internal/converter"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return slugPattern.MatchString(fl.Field().String())
	})
	return v
}

// FieldIssue is one entry of a VALIDATION_FAILED details list.
type FieldIssue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func validationFailed(issues ...FieldIssue) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidationFailed, "Request validation failed", issues)
}

// validatePublish checks req before any side effect. With skip_validation
// only the structural checks remain; SEO and image format rules are relaxed.
func validatePublish(req PublishRequest) error {
	var issues []FieldIssue
	if err := validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, e := range fieldErrs {
			issue := FieldIssue{Field: fieldPath(e), Rule: e.Tag(), Message: formatFieldError(e)}
			if req.Options.SkipValidation && relaxed(issue.Field) {
				continue
			}
			issues = append(issues, issue)
		}
	}

	if strings.TrimSpace(req.Content.HTML) == "" && !req.hasRawTree() {
		issues = append(issues, FieldIssue{
			Field:   "content.html",
			Rule:    "required",
			Message: "content.html is required unless content.raw_block_tree is given",
		})
	}
	if req.hasRawTree() {
		if _, err := converter.ParseDocument(req.Content.RawBlockTree); err != nil {
			issues = append(issues, FieldIssue{Field: "content.raw_block_tree", Rule: "tree", Message: err.Error()})
		}
	}
	if strings.TrimSpace(req.Page.Title) != "" && req.Slug() == "" {
		issues = append(issues, FieldIssue{
			Field:   "page.slug",
			Rule:    "slug",
			Message: "page.slug could not be derived from the title",
		})
	}
	if len(req.Schema) > 0 {
		if _, err := schemaBlocks(req.Schema); err != nil {
			issues = append(issues, FieldIssue{Field: "schema", Rule: "json", Message: err.Error()})
		}
	}

	if len(issues) > 0 {
		return validationFailed(issues...)
	}
	return nil
}

func relaxed(field string) bool {
	return strings.HasPrefix(field, "seo.") || strings.HasPrefix(field, "images.")
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func formatFieldError(e validator.FieldError) string {
	field := fieldPath(e)

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, e.Param())
	case "max":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must have at most %s items", field, e.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be an absolute URL", field)
	case "slug":
		return fmt.Sprintf("%s must contain only lowercase letters, digits and dashes", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/10d3/nexora/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Kind   schema.Kind               `json:"kind"`
	Valid  bool                      `json:"valid"`
	Count  int                       `json:"count"`
	Errors []DocumentValidationError `json:"errors,omitempty"`
}

// DocumentValidationError locates a failure in a multi-document input.
type DocumentValidationError struct {
	Index   int    `json:"index"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("%d %s document(s) valid", r.Count, r.Kind)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d of %d %s document(s) invalid", len(r.Errors), r.Count, r.Kind)
	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "\n  [%d] %s: %s", e.Index, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "\n  [%d] %s", e.Index, e.Message)
		}
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var schemaFile string
	cmd := &cobra.Command{
		Use:   "validate <kind> <file|->",
		Short: "Validate entity documents against the schema",
		Long: `Validate one JSON entity document, or a JSON array of them, against the
CUE constraints of <kind>. Does not touch the mirror.

--schema replaces the built-in entity schema with a CUE file, which is
compiled first; compile errors are reported with their position.`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, schemaFile, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&schemaFile, "schema", "", "CUE entity schema to validate against")
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command, schemaFile, kindName, path string) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	reg, err := loadRegistry(schemaFile)
	if err != nil {
		_ = formatter.Error("SCHEMA", err.Error(), nil)
		return WrapExitError(ExitCommandError, "load schema", err)
	}
	coll, ok := reg.Lookup(schema.Kind(kindName))
	if !ok {
		coll, ok = reg.ByEntity(kindName)
	}
	if !ok {
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown kind %q", kindName))
	}

	docs, err := readDocuments(cmd.InOrStdin(), path)
	if err != nil {
		return WrapExitError(ExitCommandError, "read documents", err)
	}
	formatter.VerboseLog("Validating %d document(s) as %s", len(docs), coll.Kind)

	result := ValidationResult{Kind: coll.Kind, Count: len(docs)}
	for i, doc := range docs {
		if err := reg.Validate(coll.Kind, doc); err != nil {
			var ve *schema.ValidationError
			if errors.As(err, &ve) {
				result.Errors = append(result.Errors, DocumentValidationError{Index: i, Field: ve.Field, Message: ve.Message})
			} else {
				result.Errors = append(result.Errors, DocumentValidationError{Index: i, Message: err.Error()})
			}
		}
	}
	result.Valid = len(result.Errors) == 0

	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

func loadRegistry(path string) (*schema.Registry, error) {
	if path == "" {
		return schema.Default()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return schema.Compile(string(src))
}

// readDocuments reads a JSON object or array of objects from path, or
// from stdin when path is "-".
func readDocuments(stdin io.Reader, path string) ([]json.RawMessage, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var docs []json.RawMessage
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return docs, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: not valid JSON", path)
	}
	return []json.RawMessage{data}, nil
}

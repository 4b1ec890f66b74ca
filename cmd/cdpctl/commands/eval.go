package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sumanism/ECA2/internal/audience"
	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/segment"
	"github.com/sumanism/ECA2/internal/store"
)

var (
	evalRulesFile string
	evalUsersFile string
	evalStrict    bool
)

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate a segment definition against local users",
	Long: `Evaluate a segment definition from a file against users from a file,
without a server. Both files may be JSON or YAML. The users file holds a
list of users, or an object with a "users" list.

Examples:
  cdpctl eval --rules vip.yaml --users users.json
  cdpctl eval --rules vip.json --users users.yaml --strict --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		definition, err := readDocument(evalRulesFile)
		if err != nil {
			return fmt.Errorf("failed to read rules: %w", err)
		}
		if evalStrict {
			if err := segment.Validate(definition); err != nil {
				return fmt.Errorf("invalid definition: %w", err)
			}
		}

		users, err := readUsers(evalUsersFile)
		if err != nil {
			return fmt.Errorf("failed to read users: %w", err)
		}
		if verbose {
			fmt.Fprintf(cmd.ErrOrStderr(), "Evaluating %d user(s)\n", len(users))
		}

		svc := audience.NewService(audience.Snapshot(users), segment.NewEvaluator(), logger.Nop())
		report, err := svc.Preview(cmd.Context(), definition)
		if err != nil {
			return err
		}
		return printer(cmd).Report(&report)
	},
}

// readDocument returns the file as JSON, converting YAML by extension.
func readDocument(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		return json.Marshal(v)
	}
	return data, nil
}

func readUsers(path string) ([]store.User, error) {
	data, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}

	if data[0] == '{' {
		var wrapped struct {
			Users []store.User `json:"users"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		return wrapped.Users, nil
	}

	var users []store.User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVar(&evalRulesFile, "rules", "", "Segment definition file (JSON or YAML)")
	evalCmd.Flags().StringVar(&evalUsersFile, "users", "", "Users file (JSON or YAML)")
	evalCmd.Flags().BoolVar(&evalStrict, "strict", false, "Reject definitions the API would refuse to store")
	_ = evalCmd.MarkFlagRequired("rules")
	_ = evalCmd.MarkFlagRequired("users")
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section. The max section only has to name an
// account here; the client validates the rest when it is built.
func (c *Config) Validate() error {
	var problems []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s: failed on '%s'", fe.Namespace(), fe.Tag()))
		}
	}

	if c.Max.Token == "" && c.Max.Phone == "" {
		problems = append(problems, "max: token or phone is required")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// IsAdmin reports whether userID is the configured admin. No admin is
// configured when AdminUserID is zero.
func (c *Config) IsAdmin(userID int64) bool {
	return c.Bot.AdminUserID != 0 && userID == c.Bot.AdminUserID
}

// TaskEnabled reports whether the named scheduled task should run, and its
// schedule.
func (c *Config) TaskEnabled(name string) (string, bool) {
	task, ok := c.Scheduler.Tasks[name]
	if !ok || !task.Enabled {
		return "", false
	}
	return task.Schedule, true
}

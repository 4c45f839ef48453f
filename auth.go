package webmax

import (
	"context"
	"errors"
	"strings"

	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/models"
)

// CodePrompter supplies the SMS verification code during phone login.
// attempt starts at 1 and grows after every rejected code.
type CodePrompter interface {
	PromptCode(ctx context.Context, phone string, attempt int) (string, error)
}

// CodePrompterFunc adapts a function to CodePrompter.
type CodePrompterFunc func(ctx context.Context, phone string, attempt int) (string, error)

func (f CodePrompterFunc) PromptCode(ctx context.Context, phone string, attempt int) (string, error) {
	return f(ctx, phone, attempt)
}

// Auth logs in with a phone number: it requests an SMS code, asks prompter
// for it (again after a wrong code, up to Config.MaxCodeAttempts times),
// then logs in on a fresh connection with the issued token.
//
// The token is returned even when the final login fails, so it can be
// stored and reused. Auth is meant to run before Run, or from Run itself
// when Config.Phone is set.
func (c *Client) Auth(ctx context.Context, phone string, prompter CodePrompter) (string, *models.User, error) {
	if prompter == nil {
		return "", nil, errs.NewConfigError("phone login needs a code prompter", nil)
	}
	if phone == "" {
		return "", nil, errs.NewConfigError("phone login needs a phone number", nil)
	}

	if err := c.session.Connect(ctx); err != nil {
		return "", nil, err
	}

	verifyToken, err := c.session.StartPhoneAuth(ctx, phone)
	if err != nil {
		return "", nil, err
	}
	c.logger.InfoContext(ctx, "Verification code requested", "phone", maskPhone(phone))

	var token string
	for attempt := 1; ; attempt++ {
		code, err := prompter.PromptCode(ctx, phone, attempt)
		if err != nil {
			return "", nil, errs.NewAuthError("read verification code", err)
		}

		token, _, err = c.session.CheckCode(ctx, verifyToken, strings.TrimSpace(code))
		if err == nil {
			break
		}
		if errors.Is(err, errs.ErrVerifyCodeWrong) && attempt < c.cfg.MaxCodeAttempts {
			c.logger.WarnContext(ctx, "Wrong verification code", "attempt", attempt, "max_attempts", c.cfg.MaxCodeAttempts)
			continue
		}
		return "", nil, err
	}

	me, err := c.session.Open(ctx, token)
	if err != nil {
		return token, nil, err
	}
	c.logger.InfoContext(ctx, "Phone login completed", "user_id", me.ID())
	return token, me, nil
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

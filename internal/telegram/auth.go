package telegram

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
)

// ErrSignupNotSupported indicates that signup is not supported.
var ErrSignupNotSupported = errors.New("signup not supported")

func (c *Client) authFlow() auth.Flow {
	return auth.NewFlow(c, auth.SendCodeOptions{})
}

func (c *Client) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Print("Enter code: ")

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}

	return strings.TrimSpace(code), nil
}

func (c *Client) Phone(_ context.Context) (string, error) {
	var phone string

	var err error

	if c.cfg.TGPhone != "" {
		phone = c.cfg.TGPhone
	} else {
		fmt.Print("Enter phone: ")

		phone, err = bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read phone number: %w", err)
		}
	}

	phone = sanitizePhone(phone)
	c.logger.Info().Str("phone", maskPhone(phone)).Msg("Using phone number")

	if len(phone) < 10 {
		c.logger.Warn().Int("length", len(phone)).Msg("Phone number seems too short, it might be invalid. Ensure it includes country code (e.g. +1...)")
	}

	return phone, nil
}

func (c *Client) Password(_ context.Context) (string, error) {
	var password string

	var err error

	if c.cfg.TG2FAPassword != "" {
		password = c.cfg.TG2FAPassword
	} else {
		fmt.Print("Enter 2FA password: ")

		password, err = bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read 2FA password: %w", err)
		}
	}

	return strings.TrimSpace(password), nil
}

func (c *Client) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (c *Client) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, ErrSignupNotSupported
}

func sanitizePhone(phone string) string {
	var sb strings.Builder

	phone = strings.TrimSpace(phone)

	if strings.HasPrefix(phone, "+") {
		sb.WriteByte('+')
	}

	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}

	return sb.String()
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return "****"
	}

	return phone[:3] + "****" + phone[len(phone)-2:]
}

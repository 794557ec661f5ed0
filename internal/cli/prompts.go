package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/CortexConsensus/internal/trading"
)

// PromptForDate asks for the consensus date, defaulting to today.
func PromptForDate(today string) (string, error) {
	var dateStr string
	prompt := &survey.Input{
		Message: "Consensus date (YYYY-MM-DD):",
		Help:    "Format: YYYY-MM-DD (e.g., 2025-03-03). Leave as is for today.",
		Default: today,
	}

	err := survey.AskOne(prompt, &dateStr, survey.WithValidator(validateDate))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(dateStr), nil
}

// ConfirmForce asks before replacing a stored verdict.
func ConfirmForce(date string) (bool, error) {
	ok := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("A verdict for %s already exists. Delete it and run a new debate?", date),
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func validateDate(val interface{}) error {
	str, _ := val.(string)
	str = strings.TrimSpace(str)
	if str == "" {
		return fmt.Errorf("date cannot be empty")
	}
	if _, err := time.Parse(trading.DateLayout, str); err != nil {
		return fmt.Errorf("invalid date format, use YYYY-MM-DD")
	}
	return nil
}

package utils

import (
	"fmt"
	"strings"

	"github.com/badoux/checkmail"
	"github.com/likexian/whois"
)

// CheckEmailFormat validates the syntactic shape of an email address.
func CheckEmailFormat(email string) error {
	if err := checkmail.ValidateFormat(email); err != nil {
		return fmt.Errorf("invalid email format: %v", err)
	}
	return nil
}

// CheckEmailDomain verifies the address domain accepts mail. Best effort:
// a DNS/MX failure is reported, network hiccups are the caller's call.
func CheckEmailDomain(email string) error {
	if err := checkmail.ValidateHost(email); err != nil {
		return fmt.Errorf("email domain rejected: %v", err)
	}
	return nil
}

// DomainRegistered probes whois for the email's domain. An unregistered
// domain disqualifies a manual identity mapping; lookup failures count as
// registered so flaky whois servers never block an operator.
func DomainRegistered(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]

	result, err := whois.Whois(domain)
	if err != nil {
		return true
	}
	lower := strings.ToLower(result)
	if strings.Contains(lower, "no match for") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "no entries found") {
		return false
	}
	return true
}

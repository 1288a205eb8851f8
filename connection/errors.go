package connection

import (
	"errors"
	"regexp"
	"strings"
)

// ErrorClass decides how the state machine reacts to a transport failure.
type ErrorClass int

const (
	// ClassTransient errors (refused, reset, timeout, 5xx) are retried per Policy.
	ClassTransient ErrorClass = iota
	// ClassAuth errors mean the token was rejected even after a refresh.
	ClassAuth
	// ClassQuota errors come from provider call budgets; retrying would not help.
	ClassQuota
	// ClassMalformed marks unusable payloads. Never a reason to drop the connection.
	ClassMalformed
	// ClassBroker marks a local broker process that could not be reached.
	ClassBroker
	// ClassFatal errors are permanent (bad channel id, invalid credentials).
	ClassFatal
)

var classNames = map[ErrorClass]string{
	ClassTransient: "transient",
	ClassAuth:      "auth",
	ClassQuota:     "quota",
	ClassMalformed: "malformed",
	ClassBroker:    "broker",
	ClassFatal:     "fatal",
}

// String returns a short name for the class.
func (c ErrorClass) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return "transient"
}

// ParseClass is the inverse of String; unknown names map to ClassTransient.
func ParseClass(s string) ErrorClass {
	for c, name := range classNames {
		if name == s {
			return c
		}
	}
	return ClassTransient
}

// Retryable reports whether the machine should schedule another attempt.
func (c ErrorClass) Retryable() bool {
	return c == ClassTransient || c == ClassBroker || c == ClassMalformed
}

// Failure is an error carrying an explicit class.
type Failure struct {
	Class ErrorClass
	Err   error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Class.String() + " failure"
	}
	return f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Classified wraps err with an explicit class.
func Classified(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Class: class, Err: err}
}

// Classify returns the class of err. An explicit *Failure anywhere in the
// chain wins; otherwise the message is matched against known patterns and
// unmatched errors are treated as transient.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}

	lower := strings.ToLower(err.Error())
	status := statusCode(lower)

	// Quota before auth: quota errors arrive as 403 too.
	if strings.Contains(lower, "quotaexceeded") ||
		strings.Contains(lower, "ratelimitexceeded") ||
		strings.Contains(lower, "quota exceeded") ||
		status == "429" ||
		strings.Contains(lower, "too many requests") {
		return ClassQuota
	}

	if status == "401" ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid_grant") ||
		strings.Contains(lower, "invalid credentials") ||
		strings.Contains(lower, "token expired") {
		return ClassAuth
	}

	if strings.Contains(lower, "invalid character") ||
		strings.Contains(lower, "unexpected end of json") ||
		strings.Contains(lower, "malformed") {
		return ClassMalformed
	}

	if status == "404" ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "no live chat") {
		return ClassFatal
	}

	return ClassTransient
}

// statusPattern finds an HTTP status only where a message labels it as one
// ("Error 404", "status 401", "HTTP/1.1 429"), so ports and ids that happen
// to contain the digits do not match.
var statusPattern = regexp.MustCompile(`\b(?:error|status|code|http(?:/[0-9.]+)?)[\s:=]*([1-5][0-9]{2})\b`)

func statusCode(lower string) string {
	if m := statusPattern.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	return ""
}

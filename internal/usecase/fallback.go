package usecase

import "fmt"

const fallbackTemplate = `I'm sorry, I'm currently experiencing connection issues. Your message was: "%s". Please try again later.`

// BuildFallback returns the canned assistant reply used when generation
// fails. The user's message is embedded verbatim.
func BuildFallback(message string) string {
	return fmt.Sprintf(fallbackTemplate, message)
}

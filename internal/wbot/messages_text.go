package wbot

import (
	"fmt"
	"strings"

	"github.com/zapdesk-io/zapdesk-ce/internal/models"
)

const (
	defaultGreeting = "Hello %s! Thanks for reaching out."
	defaultFarewell = "Thank you for contacting us. This conversation is now closed."

	invalidChoiceText = "Sorry, that is not a valid option. Please reply with one of the numbers from the list."
	closedInvalidText = "We could not identify a department from your replies, so this conversation was closed. Feel free to message us again anytime."
	reminderText      = "Are you still there? Please reply with the number of the department you need."
	closedTimeoutText = "We did not receive a department choice, so this conversation was closed. Feel free to message us again anytime."
)

func greetingText(c *models.Connection, contactName string) string {
	name := strings.TrimSpace(contactName)
	if name == "" {
		name = "there"
	}
	if c.GreetingMessage != "" {
		return strings.ReplaceAll(c.GreetingMessage, "{{name}}", name)
	}
	return fmt.Sprintf(defaultGreeting, name)
}

func menuText(queues []*models.Queue) string {
	var b strings.Builder
	b.WriteString("Please choose a department by replying with its number:\n")
	for i, q := range queues {
		fmt.Fprintf(&b, "%d - %s\n", i+1, q.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

func confirmationText(queueName, protocol string) string {
	return fmt.Sprintf("You are now in line for *%s*. Your protocol number is *%s*. An agent will be with you shortly.", queueName, protocol)
}

func farewellText(c *models.Connection) string {
	if c != nil && c.FarewellMessage != "" {
		return c.FarewellMessage
	}
	return defaultFarewell
}

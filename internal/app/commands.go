package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var quizRefPattern = regexp.MustCompile(`^q[0-9]+$`)

var helpLines = []string{
	"/q - start a multiplayer quiz with everyone in the quiz zone",
	"/q q<n> - start quiz number n",
	"/solo [q<n>] - start a quiz on your own",
	"/a <n> - answer a solo question",
	"/sats - show your balance",
	"/quizzes - list available quizzes",
	"/login <name> [password] - load your profile",
	"/register <name> <password> - create a protected profile",
}

// HandleChat dispatches a chat line. Lines that are not commands are ignored.
// Player-facing failures are reported in chat; only transport errors return.
func (s *Service) HandleChat(ctx context.Context, playerID, text string) error {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil
	}
	args := fields[1:]

	var err error
	switch strings.ToLower(fields[0]) {
	case "/q", "/quiz":
		ref, ok := s.quizRef(playerID, args, "/q")
		if !ok {
			return nil
		}
		err = s.RequestSession(ctx, "", ref, playerID)
	case "/solo":
		ref, ok := s.quizRef(playerID, args, "/solo")
		if !ok {
			return nil
		}
		err = s.RequestSolo(ctx, ref, playerID)
	case "/a":
		if len(args) != 1 {
			s.notify.Chat(playerID, "Usage: /a <number>", ColorWarn)
			return nil
		}
		n, convErr := strconv.Atoi(args[0])
		if convErr != nil {
			s.notify.Chat(playerID, "Usage: /a <number>", ColorWarn)
			return nil
		}
		err = s.Answer(ctx, playerID, n)
	case "/sats", "/balance":
		var balance int
		balance, err = s.Balance(ctx, playerID)
		if err == nil {
			s.notify.Chat(playerID, fmt.Sprintf("Your balance: %d sats.", balance), ColorBalance)
		}
	case "/quizzes":
		for i, q := range s.Catalog().Quizzes() {
			s.notify.Chat(playerID, fmt.Sprintf("q%d: %s (cost %d, reward %d sats)", i+1, q.Topic, q.Cost, q.Reward), ColorInfo)
		}
	case "/login":
		if len(args) < 1 || len(args) > 2 {
			s.notify.Chat(playerID, "Usage: /login <name> [password]", ColorWarn)
			return nil
		}
		password := ""
		if len(args) == 2 {
			password = args[1]
		}
		err = s.reportAuth(playerID, s.Login(ctx, playerID, args[0], password))
	case "/register":
		if len(args) != 2 {
			s.notify.Chat(playerID, "Usage: /register <name> <password>", ColorWarn)
			return nil
		}
		err = s.reportAuth(playerID, s.Register(ctx, playerID, args[0], args[1]))
	case "/help":
		for _, line := range helpLines {
			s.notify.Chat(playerID, line, ColorInfo)
		}
	default:
		s.notify.Chat(playerID, "Unknown command. Type /help.", ColorWarn)
	}
	return transportError(err)
}

func (s *Service) quizRef(playerID string, args []string, cmd string) (string, bool) {
	switch len(args) {
	case 0:
		return "", true
	case 1:
		ref := strings.ToLower(args[0])
		if quizRefPattern.MatchString(ref) {
			return ref, true
		}
	}
	s.notify.Chat(playerID, fmt.Sprintf("Invalid quiz format. Use %s or %s q<number>.", cmd, cmd), ColorError)
	return "", false
}

// reportAuth turns login failures into chat lines; only transport errors survive.
func (s *Service) reportAuth(playerID string, err error) error {
	if err == nil || errors.Is(err, ErrSchedulerStopped) {
		return err
	}
	s.logger.Debug("auth rejected", "player", playerID, "err", err)
	s.notify.Chat(playerID, "Login failed: "+err.Error(), ColorError)
	return nil
}

func transportError(err error) error {
	if errors.Is(err, ErrSchedulerStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

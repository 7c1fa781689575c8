package bot

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	input "github.com/tcnksm/go-input"

	"github.com/go-go-golems/pandora/pkg/chatgpt"
	"github.com/go-go-golems/pandora/pkg/events"
	"github.com/go-go-golems/pandora/pkg/markdown"
)

const conversationPageSize = 20

// sentinels steering the outer loop; they never escape Run
var (
	errExit     = errors.New("exit")
	errReselect = errors.New("back to selection")
)

// SessionDriver is the interactive outer loop: token/conversation/model
// selection menus, the talk loop, and command dispatch. It owns the single
// live ConversationState.
type SessionDriver struct {
	client    *chatgpt.Client
	publisher *events.PublisherManager

	ui     *input.UI
	reader *bufio.Reader
	w      io.Writer

	tokenKey string
	state    *ConversationState

	renderAssistant func(string) (string, error)
	version         string
}

type SessionOption func(*SessionDriver)

func WithSessionWriter(w io.Writer) SessionOption {
	return func(s *SessionDriver) {
		s.w = w
	}
}

func WithSessionInput(r io.Reader) SessionOption {
	return func(s *SessionDriver) {
		s.reader = bufio.NewReader(r)
	}
}

func WithSessionUI(ui *input.UI) SessionOption {
	return func(s *SessionDriver) {
		s.ui = ui
	}
}

func WithSessionRenderer(render func(string) (string, error)) SessionOption {
	return func(s *SessionDriver) {
		s.renderAssistant = render
	}
}

func WithVersion(version string) SessionOption {
	return func(s *SessionDriver) {
		s.version = version
	}
}

func NewSessionDriver(client *chatgpt.Client, publisher *events.PublisherManager, options ...SessionOption) *SessionDriver {
	ret := &SessionDriver{
		client:    client,
		publisher: publisher,
		w:         io.Discard,
		version:   "dev",
	}

	for _, option := range options {
		option(ret)
	}

	if ret.reader == nil {
		ret.reader = bufio.NewReader(strings.NewReader(""))
	}
	if ret.ui == nil {
		ret.ui = &input.UI{Writer: ret.w, Reader: io.NopCloser(ret.reader)}
	}

	return ret
}

// Run drives the session until the user exits or the context is cancelled.
func (s *SessionDriver) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		switch {
		case errors.Is(err, errReselect):
			continue
		case errors.Is(err, errExit), errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}

func (s *SessionDriver) runOnce(ctx context.Context) error {
	tokenKey, err := s.chooseTokenKey(ctx)
	if err != nil {
		return err
	}
	s.tokenKey = tokenKey

	item, err := s.chooseConversation(ctx, 1)
	if err != nil {
		return err
	}

	if item != nil {
		if err := s.loadConversation(ctx, item.ID); err != nil {
			fmt.Fprintf(s.w, "#### Failed to load conversation: %s\n", err)
			return errReselect
		}
	} else {
		if err := s.newConversation(ctx); err != nil {
			return err
		}
	}

	return s.talkLoop(ctx)
}

func (s *SessionDriver) talkLoop(ctx context.Context) error {
	for {
		editing := ""
		if s.state != nil && s.state.EditIndex > 0 {
			editing = " (edit)"
		}
		fmt.Fprintf(s.w, "You%s:\n", editing)

		prompt, err := s.readPrompt()
		if err != nil {
			return err
		}
		if prompt == "" {
			continue
		}

		if strings.HasPrefix(prompt, "/") {
			if err := s.processCommand(ctx, prompt); err != nil {
				return err
			}
			continue
		}

		s.talk(ctx, prompt)
	}
}

// readPrompt collects lines until an empty line submits them. A line starting
// with "/" is returned immediately as a command.
func (s *SessionDriver) readPrompt() (string, error) {
	var lines []string
	for {
		line, err := s.reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if strings.HasPrefix(line, "/") {
			return line, nil
		}
		if line == "" {
			if err != nil && len(lines) == 0 {
				return "", err
			}
			return strings.Join(lines, "\n"), nil
		}

		lines = append(lines, line)
		if err != nil {
			return strings.Join(lines, "\n"), nil
		}
	}
}

func (s *SessionDriver) talk(ctx context.Context, prompt string) {
	controller := NewTurnController(s.client, s.state, s.publisher, s.tokenKey)

	firstTurn := !s.state.Established()
	titleBefore := s.state.Title

	if err := controller.Talk(ctx, prompt); err != nil {
		s.reportTurnError(err)
		return
	}

	if firstTurn && s.state.Title != titleBefore {
		fmt.Fprintf(s.w, "#### Title generated: %s\n", s.state.Title)
	}
}

// reportTurnError surfaces a turn-fatal error and returns control to the
// input prompt; the session itself survives.
func (s *SessionDriver) reportTurnError(err error) {
	var precondition *PreconditionFailedError
	if errors.As(err, &precondition) {
		fmt.Fprintf(s.w, "#### %s.\n", precondition.Reason)
		return
	}
	log.Error().Err(err).Msg("turn failed")
	fmt.Fprintf(s.w, "#### %s\n", err)
}

func (s *SessionDriver) processCommand(ctx context.Context, command string) error {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "/quit", "/exit", "/bye":
		return errExit
	case "/del", "/delete", "/remove":
		return s.delConversation(ctx)
	case "/title", "/set_title", "/set-title":
		s.setConversationTitle(ctx)
	case "/select":
		return errReselect
	case "/refresh", "/reload":
		if err := s.loadConversation(ctx, s.state.ConversationID); err != nil {
			fmt.Fprintf(s.w, "#### Failed to reload conversation: %s\n", err)
		}
	case "/new":
		if err := s.newConversation(ctx); err != nil {
			return err
		}
	case "/regen", "/regenerate":
		fmt.Fprintln(s.w)
		if err := NewTurnController(s.client, s.state, s.publisher, s.tokenKey).Regenerate(ctx); err != nil {
			s.reportTurnError(err)
		}
	case "/goon", "/continue":
		fmt.Fprintln(s.w)
		if err := NewTurnController(s.client, s.state, s.publisher, s.tokenKey).Continue(ctx); err != nil {
			s.reportTurnError(err)
		}
	case "/edit", "/modify":
		s.editChoice()
	case "/token":
		s.printAccessToken(ctx)
	case "/cls", "/clear":
		s.clearScreen()
	case "/copy", "/cp":
		s.copyText()
	case "/copy_code", "/cp_code":
		s.copyCode()
	case "/ver", "/version":
		fmt.Fprintf(s.w, "#### Version: %s\n\n", s.version)
	default:
		s.printUsage()
	}
	return nil
}

func (s *SessionDriver) printUsage() {
	fmt.Fprint(s.w, `
#### Command list:
/?		Show this help message.
/title		Set the current conversation's title.
/select		Choice a different conversation.
/reload		Reload the current conversation.
/regen		Regenerate response.
/continue	Continue generating.
/edit		Edit one of your previous prompts.
/new		Start a new conversation.
/del		Delete the current conversation.
/token		Print your access token.
/copy		Copy the last response to clipboard.
/copy_code	Copy code from last response.
/clear		Clear your screen.
/version	Print the version of Pandora.
/exit		Exit Pandora.

`)
}

func (s *SessionDriver) newConversation(ctx context.Context) error {
	model, err := s.chooseModel(ctx)
	if err != nil {
		return err
	}

	s.state = NewConversationState(
		WithModelSlug(model.Slug),
		WithTitle("New Chat"),
	)
	s.printConversationTitle(s.state.Title)
	return nil
}

func (s *SessionDriver) loadConversation(ctx context.Context, conversationID string) error {
	loader := NewConversationLoader(s.client,
		WithTranscriptWriter(s.w),
		WithTokenKey(s.tokenKey),
		WithAssistantRenderer(s.renderAssistant),
		WithBanner(s.printConversationTitle),
	)

	state, err := loader.Load(ctx, conversationID)
	if err != nil {
		return err
	}
	if state != nil {
		s.state = state
	}
	return nil
}

func (s *SessionDriver) printConversationTitle(title string) {
	fmt.Fprintf(s.w, "==================== %s ====================\n", title)
	fmt.Fprintf(s.w, "Double enter to send. Type /? for help.\n")
}

func (s *SessionDriver) setConversationTitle(ctx context.Context) {
	if !s.state.Established() {
		fmt.Fprintf(s.w, "#### Conversation has not been created.\n")
		return
	}

	title, err := s.ui.Ask("New title", &input.Options{
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			if len(answer) > 64 {
				return errors.New("title too long")
			}
			return nil
		},
	})
	if err != nil {
		return
	}

	ok, err := s.client.SetConversationTitle(ctx, s.state.ConversationID, title, s.tokenKey)
	if err != nil || !ok {
		log.Warn().Err(err).Msg("failed to set conversation title")
		fmt.Fprintf(s.w, "#### Set title failed.\n")
		return
	}
	s.state.Title = title
	fmt.Fprintf(s.w, "#### Set title success.\n")
}

func (s *SessionDriver) delConversation(ctx context.Context) error {
	if !s.state.Established() {
		fmt.Fprintf(s.w, "#### Conversation has not been created.\n")
		return nil
	}
	if !s.confirm("Are you sure?") {
		return nil
	}

	ok, err := s.client.DelConversation(ctx, s.state.ConversationID, s.tokenKey)
	if err != nil || !ok {
		log.Warn().Err(err).Msg("failed to delete conversation")
		fmt.Fprintf(s.w, "#### Delete conversation failed.\n")
		return nil
	}
	return errReselect
}

func (s *SessionDriver) clearConversations(ctx context.Context) error {
	if !s.confirm("Are you sure?") {
		return nil
	}

	ok, err := s.client.ClearConversations(ctx, s.tokenKey)
	if err != nil || !ok {
		log.Warn().Err(err).Msg("failed to clear conversations")
		fmt.Fprintf(s.w, "#### Clear conversations failed.\n")
		return nil
	}
	return errReselect
}

// editChoice presents the user turn history and records the chosen 1-based
// index on the state; the next talk replaces that turn.
func (s *SessionDriver) editChoice() {
	if len(s.state.History) == 0 {
		return
	}

	whitespace := regexp.MustCompile(`\s+`)

	var choices []string
	fmt.Fprintf(s.w, "Choice your prompt to edit:\n")
	for idx, item := range s.state.History {
		number := strconv.Itoa(idx + 1)
		choices = append(choices, number)

		preview := whitespace.ReplaceAllString(item.Text, " ")
		if len(preview) > 40 {
			preview = preview[:40] + "..."
		}
		fmt.Fprintf(s.w, "  %s.\t%s\n", number, preview)
	}
	choices = append(choices, "c")
	fmt.Fprintf(s.w, "  c.\t** Cancel\n")

	choice, err := s.askChoice("Your choice", choices, "")
	if err != nil || choice == "c" {
		return
	}

	index, err := strconv.Atoi(choice)
	if err != nil {
		return
	}
	s.state.EditIndex = index
}

func (s *SessionDriver) printAccessToken(ctx context.Context) {
	accessToken, err := s.client.GetAccessToken(ctx, s.tokenKey)
	if err != nil {
		fmt.Fprintf(s.w, "#### %s\n", err)
		return
	}
	fmt.Fprintf(s.w, "\n#### Your access token (keep it private)\n%s\n\n", accessToken)
}

func (s *SessionDriver) clearScreen() {
	fmt.Fprint(s.w, "\033[2J\033[H")
	if s.state != nil {
		s.printConversationTitle(s.state.Title)
	}
}

func (s *SessionDriver) copyText() {
	if err := clipboard.WriteAll(s.state.AssistantPrompt.Text); err != nil {
		log.Warn().Err(err).Msg("failed to write clipboard")
		fmt.Fprintf(s.w, "#### Copy failed: %s\n", err)
		return
	}
	fmt.Fprintf(s.w, "#### Copied the last response to the clipboard.\n")
}

func (s *SessionDriver) copyCode() {
	blocks, err := markdown.ExtractCodeBlocks(s.state.AssistantPrompt.Text)
	if err != nil {
		fmt.Fprintf(s.w, "#### Copy failed: %s\n", err)
		return
	}
	if len(blocks) == 0 {
		fmt.Fprintf(s.w, "#### No code found in the last response.\n")
		return
	}

	codes := make([]string, 0, len(blocks))
	for _, block := range blocks {
		codes = append(codes, strings.TrimRight(block.Code, "\n"))
	}
	code := strings.Join(codes, "\n=======================================================\n")

	if err := clipboard.WriteAll(code); err != nil {
		log.Warn().Err(err).Msg("failed to write clipboard")
		fmt.Fprintf(s.w, "#### Copy failed: %s\n", err)
		return
	}
	fmt.Fprintf(s.w, "#### Copied the code from the last response to the clipboard.\n")
}

func (s *SessionDriver) chooseTokenKey(ctx context.Context) (string, error) {
	keys, err := s.client.ListTokenKeys(ctx)
	if err != nil {
		return "", err
	}
	if len(keys) <= 1 {
		return "", nil
	}

	var choices []string
	fmt.Fprintf(s.w, "Choice access token:\n")
	for idx, key := range keys {
		number := strconv.Itoa(idx + 1)
		choices = append(choices, number)
		fmt.Fprintf(s.w, "  %s.\t%s\n", number, key)
	}

	choice, err := s.askChoice("Your choice", choices, "")
	if err != nil {
		return "", err
	}
	index, _ := strconv.Atoi(choice)
	return keys[index-1], nil
}

// chooseConversation pages through the remote conversation list. It returns
// nil for "start a new chat" and errReselect when the user wants to re-pick
// the access token.
func (s *SessionDriver) chooseConversation(ctx context.Context, page int) (*chatgpt.ConversationItem, error) {
	for {
		conversations, err := s.client.ListConversations(ctx, (page-1)*conversationPageSize, conversationPageSize, s.tokenKey)
		if err != nil {
			return nil, err
		}
		if conversations.Total == 0 {
			return nil, nil
		}

		items := conversations.Items
		firstPage := conversations.Offset == 0
		lastPage := conversations.Offset+conversations.Limit >= conversations.Total

		choices := []string{"c", "r", "dd"}
		fmt.Fprintf(s.w, "Choice conversation (Page %d):\n", page)
		for idx, item := range items {
			number := strconv.Itoa(idx + 1)
			choices = append(choices, number, "t"+number, "d"+number)
			fmt.Fprintf(s.w, "  %s.\t%s\n", number, strings.ReplaceAll(item.Title, "\n", " "))
		}

		if !lastPage {
			choices = append(choices, "n")
			fmt.Fprintf(s.w, "  n.\t>> Next page\n")
		}
		if !firstPage {
			choices = append(choices, "p")
			fmt.Fprintf(s.w, "  p.\t<< Previous page\n")
		}
		fmt.Fprintf(s.w, "  t?.\tSet title for the conversation, eg: t1\n")
		fmt.Fprintf(s.w, "  d?.\tDelete the conversation, eg: d1\n")
		fmt.Fprintf(s.w, "  dd.\t!! Clear all conversations\n")
		fmt.Fprintf(s.w, "  r.\tRefresh conversation list\n")

		keys, err := s.client.ListTokenKeys(ctx)
		if err != nil {
			return nil, err
		}
		if len(keys) > 1 {
			choices = append(choices, "k")
			fmt.Fprintf(s.w, "  k.\tChoice access token\n")
		}
		fmt.Fprintf(s.w, "  c.\t** Start new chat\n")

		choice, err := s.askChoice("Your choice", choices, "")
		if err != nil {
			return nil, err
		}

		switch {
		case choice == "c":
			return nil, nil
		case choice == "k":
			return nil, errReselect
		case choice == "r":
			continue
		case choice == "n":
			page++
		case choice == "p":
			page--
		case choice == "dd":
			if err := s.clearConversations(ctx); err != nil {
				// the list is gone; start over from the selection menus
				return nil, err
			}
		case strings.HasPrefix(choice, "t"):
			index, _ := strconv.Atoi(choice[1:])
			s.retitleConversation(ctx, items[index-1].ID)
		case strings.HasPrefix(choice, "d"):
			index, _ := strconv.Atoi(choice[1:])
			s.deleteListedConversation(ctx, items[index-1].ID)
		default:
			index, _ := strconv.Atoi(choice)
			return &items[index-1], nil
		}
	}
}

func (s *SessionDriver) retitleConversation(ctx context.Context, conversationID string) {
	title, err := s.ui.Ask("New title", &input.Options{
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			if len(answer) > 64 {
				return errors.New("title too long")
			}
			return nil
		},
	})
	if err != nil {
		return
	}

	ok, err := s.client.SetConversationTitle(ctx, conversationID, title, s.tokenKey)
	if err != nil || !ok {
		fmt.Fprintf(s.w, "#### Set title failed.\n")
		return
	}
	fmt.Fprintf(s.w, "#### Set title success.\n")
}

func (s *SessionDriver) deleteListedConversation(ctx context.Context, conversationID string) {
	if !s.confirm("Are you sure?") {
		return
	}
	ok, err := s.client.DelConversation(ctx, conversationID, s.tokenKey)
	if err != nil || !ok {
		fmt.Fprintf(s.w, "#### Delete conversation failed.\n")
	}
}

func (s *SessionDriver) chooseModel(ctx context.Context) (*chatgpt.Model, error) {
	for {
		models, err := s.client.ListModels(ctx, s.tokenKey)
		if err != nil {
			return nil, err
		}
		if len(models) == 0 {
			return nil, errors.New("no models available")
		}
		if len(models) == 1 {
			return &models[0], nil
		}

		var choices []string
		fmt.Fprintf(s.w, "Choice model:\n")
		for idx, model := range models {
			number := strconv.Itoa(idx + 1)
			choices = append(choices, number)
			fmt.Fprintf(s.w, "  %s.\t%s - %s\n", number, model.Title, model.Description)
		}
		choices = append(choices, "r")
		fmt.Fprintf(s.w, "  r.\tRefresh model list\n")

		choice, err := s.askChoice("Your choice", choices, "")
		if err != nil {
			return nil, err
		}
		if choice == "r" {
			continue
		}
		index, _ := strconv.Atoi(choice)
		return &models[index-1], nil
	}
}

func (s *SessionDriver) askChoice(query string, choices []string, defaultChoice string) (string, error) {
	valid := map[string]bool{}
	for _, choice := range choices {
		valid[choice] = true
	}

	return s.ui.Ask(query, &input.Options{
		Default:     defaultChoice,
		Required:    true,
		Loop:        true,
		HideDefault: defaultChoice == "",
		ValidateFunc: func(answer string) error {
			if !valid[strings.TrimSpace(answer)] {
				return errors.Errorf("invalid choice %q", answer)
			}
			return nil
		},
	})
}

func (s *SessionDriver) confirm(query string) bool {
	answer, err := s.ui.Ask(fmt.Sprintf("%s [y/N]", query), &input.Options{
		Default:     "n",
		Required:    true,
		Loop:        true,
		HideDefault: true,
		ValidateFunc: func(answer string) error {
			switch strings.ToLower(answer) {
			case "y", "n":
				return nil
			default:
				return errors.New("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false
	}
	return strings.EqualFold(answer, "y")
}

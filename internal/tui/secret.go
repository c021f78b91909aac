package tui

import (
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrAborted is returned when the user leaves a prompt without submitting.
var ErrAborted = errors.New("prompt aborted")

type SecretModel struct {
	label   string
	input   textinput.Model
	value   string
	aborted bool
}

func NewSecretModel(label string) *SecretModel {
	ti := textinput.New()
	ti.Placeholder = "paste key"
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '•'
	ti.CharLimit = 512
	ti.Width = 48
	ti.Focus()
	return &SecretModel{label: label, input: ti}
}

func (m *SecretModel) Init() tea.Cmd { return textinput.Blink }

func (m *SecretModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		switch km.Type {
		case tea.KeyEnter:
			m.value = strings.TrimSpace(m.input.Value())
			return m, tea.Quit
		case tea.KeyEsc, tea.KeyCtrlC:
			m.aborted = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *SecretModel) View() string {
	return titleStyle.Render(m.label) + "\n\n" + m.input.View() + "\n\n" + hintStyle.Render("enter to save, esc to cancel") + "\n"
}

func (m *SecretModel) Value() (string, error) {
	if m.aborted {
		return "", ErrAborted
	}
	return m.value, nil
}

// PromptSecret asks for a value with masked echo.
func PromptSecret(in io.Reader, out io.Writer, label string) (string, error) {
	m := NewSecretModel(label)
	final, err := tea.NewProgram(m, tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return "", err
	}
	return final.(*SecretModel).Value()
}

// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/toeirei/keysetup/internal/i18n"
	"github.com/toeirei/keysetup/internal/keyring"
	"github.com/toeirei/keysetup/internal/logging"
	"github.com/toeirei/keysetup/internal/model"
	"github.com/toeirei/keysetup/internal/security"
	"github.com/toeirei/keysetup/internal/tui/frame"
	"github.com/toeirei/keysetup/internal/welcome"
)

// clipboardWrite is replaced in tests.
var clipboardWrite = clipboard.WriteAll

// PreferenceReader loads the stored preferences; *db.Store implements it.
type PreferenceReader interface {
	Preferences(ctx context.Context) (model.Preferences, error)
}

// Options configure the welcome screen.
type Options struct {
	// KeyDefaults seeds the request built from the generation form.
	KeyDefaults model.KeyGenerationRequest
	Preferences PreferenceReader
	// PublicKey returns the key copied with ctrl+y.
	PublicKey func(ctx context.Context) (string, error)
}

type section int

const (
	sectionNovice section = iota
	sectionAdvanced
)

type panelMode int

const (
	panelMenu panelMode = iota
	panelImportPath
	panelNewPassphrase
)

type panelItem int

const (
	itemImport panelItem = iota
	itemPassphrase
	itemExport
)

// Messages
type (
	changedMsg   struct{}
	activatedMsg struct{ err error }
	opDoneMsg    struct {
		op  string
		err error
	}
	copiedMsg struct{ err error }
	closedMsg struct{ err error }
	prefsMsg  struct {
		prefs model.Preferences
		err   error
	}
)

// welcomeModel renders the orchestrator's slots. Orchestrator operations
// block, so they always run inside commands.
type welcomeModel struct {
	ctx  context.Context
	orch *welcome.Orchestrator
	sig  *Signal
	opts Options

	width   int
	section section

	// novice slot
	form      *welcome.GenerateKeyForm
	inputs    []textinput.Model
	formFocus int

	// advanced slot
	panel       *welcome.KeyringPanel
	panelCursor int
	panelMode   panelMode
	pathInput   textinput.Model
	passInput   textinput.Model

	// callback slot
	dialog       *welcome.Dialog
	dialogInput  textinput.Model
	dialogChoice int

	showAgain bool
	prefs     model.Preferences
	status    string
	statusErr bool
	quitting  bool
}

func newWelcomeModel(ctx context.Context, orch *welcome.Orchestrator, sig *Signal, opts Options) *welcomeModel {
	if opts.KeyDefaults.Algorithm == "" {
		opts.KeyDefaults = model.DefaultKeyGenerationRequest("", "", "")
	}
	m := &welcomeModel{
		ctx:       ctx,
		orch:      orch,
		sig:       sig,
		opts:      opts,
		showAgain: true,
		prefs:     model.DefaultPreferences(),
	}

	for _, id := range []string{"gen_key.name_label", "gen_key.email_label", "gen_key.comments_label"} {
		ti := textinput.New()
		ti.Placeholder = i18n.T(id)
		ti.CharLimit = 128
		ti.Width = 36
		m.inputs = append(m.inputs, ti)
	}

	m.pathInput = textinput.New()
	m.pathInput.Placeholder = i18n.T("keymgmt.import_path")
	m.pathInput.Width = 36

	m.passInput = textinput.New()
	m.passInput.Placeholder = i18n.T("keymgmt.new_passphrase")
	m.passInput.EchoMode = textinput.EchoPassword
	m.passInput.EchoCharacter = '•'
	m.passInput.Width = 36

	m.dialogInput = textinput.New()
	m.dialogInput.Width = 40
	return m
}

func (m *welcomeModel) Init() tea.Cmd {
	return tea.Batch(m.sig.wait(m.ctx), m.activate(), m.loadPrefs(), textinput.Blink)
}

func (m *welcomeModel) activate() tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return activatedMsg{err: m.orch.Activate(ctx)}
	}
}

func (m *welcomeModel) loadPrefs() tea.Cmd {
	if m.opts.Preferences == nil {
		return nil
	}
	ctx, store := m.ctx, m.opts.Preferences
	return func() tea.Msg {
		p, err := store.Preferences(ctx)
		return prefsMsg{prefs: p, err: err}
	}
}

// run executes a blocking orchestrator operation off the UI goroutine.
func (m *welcomeModel) run(op string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{op: op, err: fn(ctx)}
	}
}

func (m *welcomeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case changedMsg:
		m.sync()
		return m, m.sig.wait(m.ctx)

	case activatedMsg:
		if msg.err != nil {
			if welcome.KindOf(msg.err) == welcome.KindContextUnavailable {
				m.setStatus(i18n.T("welcome.context_unavailable"), true)
			}
			logging.Debugf("tui: activate: %v", msg.err)
		}
		m.sync()
		return m, nil

	case opDoneMsg:
		// Failures are surfaced as dialogs by the orchestrator.
		if msg.err != nil {
			logging.Debugf("tui: %s: %v", msg.op, msg.err)
			if errors.Is(msg.err, welcome.ErrBusy) {
				m.setStatus(i18n.T("welcome.busy"), true)
			}
		}
		m.sync()
		return m, nil

	case copiedMsg:
		switch {
		case msg.err == nil:
			m.setStatus(i18n.T("welcome.copied"), false)
		case errors.Is(msg.err, keyring.ErrNotFound):
			m.setStatus(i18n.T("welcome.no_key"), true)
		default:
			m.setStatus(i18n.T("welcome.copy_failed", msg.err.Error()), true)
		}
		return m, nil

	case closedMsg:
		if msg.err != nil {
			if errors.Is(msg.err, welcome.ErrBusy) {
				m.setStatus(i18n.T("welcome.busy"), true)
			} else {
				m.setStatus(i18n.T("welcome.error", msg.err.Error()), true)
			}
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case prefsMsg:
		if msg.err != nil {
			logging.Warnf("tui: load preferences: %v", msg.err)
			return m, nil
		}
		m.prefs = msg.prefs
		m.showAgain = msg.prefs.WelcomeEnabled
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *welcomeModel) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

// sync picks up the units currently mounted in the registry.
func (m *welcomeModel) sync() {
	reg := m.orch.Registry()

	if f, ok := reg.Get(welcome.SlotNovice).(*welcome.GenerateKeyForm); ok {
		if f != m.form {
			m.form = f
			name, email, comment := f.Input()
			m.inputs[0].SetValue(name)
			m.inputs[1].SetValue(email)
			m.inputs[2].SetValue(comment)
			m.formFocus = 0
		}
	} else {
		m.form = nil
	}

	if p, ok := reg.Get(welcome.SlotAdvanced).(*welcome.KeyringPanel); ok {
		if p != m.panel {
			m.panel = p
			m.panelCursor = 0
			m.setPanelMode(panelMenu)
		}
	} else {
		m.panel = nil
		m.setPanelMode(panelMenu)
	}

	d, _ := reg.Get(welcome.SlotCallback).(*welcome.Dialog)
	if d != nil && d.Closed() {
		d = nil
	}
	if d != m.dialog {
		m.dialog = d
		m.dialogChoice = 0
		m.dialogInput.Reset()
		m.dialogInput.Blur()
		if d != nil && (d.Input == welcome.InputText || d.Input == welcome.InputSecureText) {
			m.dialogInput.EchoMode = textinput.EchoNormal
			if d.Input == welcome.InputSecureText {
				m.dialogInput.EchoMode = textinput.EchoPassword
				m.dialogInput.EchoCharacter = '•'
			}
			m.dialogInput.Focus()
		}
	}

	if !m.visible(m.section) {
		for _, s := range []section{sectionNovice, sectionAdvanced} {
			if m.visible(s) {
				m.section = s
				break
			}
		}
	}
	m.focusForm()
}

func (m *welcomeModel) visible(s section) bool {
	switch s {
	case sectionNovice:
		return m.orch.Registry().Get(welcome.SlotNovice) != nil
	case sectionAdvanced:
		return m.orch.Registry().Get(welcome.SlotAdvanced) != nil
	}
	return false
}

func (m *welcomeModel) focusForm() {
	for i := range m.inputs {
		if m.form != nil && m.section == sectionNovice && m.formFocus == i {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

func (m *welcomeModel) setPanelMode(mode panelMode) {
	m.panelMode = mode
	m.pathInput.Blur()
	m.passInput.Blur()
	switch mode {
	case panelImportPath:
		m.pathInput.Reset()
		m.pathInput.Focus()
	case panelNewPassphrase:
		m.passInput.Reset()
		m.passInput.Focus()
	}
}

func (m *welcomeModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}
	if m.dialog != nil {
		return m.updateDialog(msg)
	}

	switch msg.String() {
	case "ctrl+w":
		m.showAgain = !m.showAgain
		return m, nil
	case "ctrl+y":
		return m, m.copyKey()
	case "esc":
		if m.section == sectionAdvanced && m.panelMode != panelMenu {
			m.setPanelMode(panelMenu)
			return m, nil
		}
		return m, m.close()
	case "tab", "shift+tab":
		next := sectionAdvanced
		if m.section == sectionAdvanced {
			next = sectionNovice
		}
		if m.visible(next) {
			m.section = next
			m.focusForm()
		}
		return m, nil
	}

	switch m.section {
	case sectionNovice:
		return m.updateNovice(msg)
	case sectionAdvanced:
		return m.updateAdvanced(msg)
	}
	return m, nil
}

func (m *welcomeModel) updateDialog(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	d := m.dialog
	switch d.Input {
	case welcome.InputText, welcome.InputSecureText:
		switch msg.String() {
		case "enter":
			value := security.FromString(m.dialogInput.Value())
			m.dialogInput.Reset()
			d.Submit(value)
			m.sync()
			return m, nil
		case "esc":
			d.Cancel()
			m.sync()
			return m, nil
		}
		var cmd tea.Cmd
		m.dialogInput, cmd = m.dialogInput.Update(msg)
		return m, cmd

	case welcome.InputConfirm:
		switch msg.String() {
		case "left", "right", "h", "l", "tab", "shift+tab":
			m.dialogChoice = 1 - m.dialogChoice
		case "y":
			d.Confirm(true)
			m.sync()
		case "n", "esc":
			d.Confirm(false)
			m.sync()
		case "enter":
			d.Confirm(m.dialogChoice == 0)
			m.sync()
		}
		return m, nil
	}

	switch msg.String() {
	case "enter", "esc":
		d.Dismiss()
		m.sync()
	}
	return m, nil
}

// dismissNotice acknowledges a success notice mounted in slot.
func (m *welcomeModel) dismissNotice(slot string, msg tea.KeyMsg) {
	if msg.String() != "enter" {
		return
	}
	if d, ok := m.orch.Registry().Get(slot).(*welcome.Dialog); ok {
		d.Dismiss()
		m.sync()
	}
}

func (m *welcomeModel) updateNovice(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form == nil {
		m.dismissNotice(welcome.SlotNovice, msg)
		return m, nil
	}

	button := len(m.inputs)
	switch msg.String() {
	case "up":
		if m.formFocus > 0 {
			m.formFocus--
		}
		m.focusForm()
		return m, nil
	case "down":
		if m.formFocus < button {
			m.formFocus++
		}
		m.focusForm()
		return m, nil
	case "enter":
		if m.formFocus < button {
			m.formFocus++
			m.focusForm()
			return m, nil
		}
		return m, m.submitForm()
	}

	if m.formFocus == button {
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[m.formFocus], cmd = m.inputs[m.formFocus].Update(msg)
	m.form.SetInput(m.inputs[0].Value(), m.inputs[1].Value(), m.inputs[2].Value())
	return m, cmd
}

func (m *welcomeModel) submitForm() tea.Cmd {
	m.form.SetInput(m.inputs[0].Value(), m.inputs[1].Value(), m.inputs[2].Value())
	req := m.form.Request(m.opts.KeyDefaults)
	m.setStatus("", false)
	return m.run("generate key", func(ctx context.Context) error {
		return m.orch.GenerateKey(ctx, req)
	})
}

func (m *welcomeModel) panelItems() []panelItem {
	items := []panelItem{itemImport, itemPassphrase}
	if m.panel != nil && m.panel.CanExport() {
		items = append(items, itemExport)
	}
	return items
}

func (m *welcomeModel) updateAdvanced(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.panel == nil {
		m.dismissNotice(welcome.SlotAdvanced, msg)
		return m, nil
	}

	switch m.panelMode {
	case panelImportPath:
		if msg.String() == "enter" {
			path := strings.TrimSpace(m.pathInput.Value())
			if path == "" {
				return m, nil
			}
			m.setPanelMode(panelMenu)
			return m, m.run("import keyring", func(ctx context.Context) error {
				return m.orch.ImportKeyring(ctx, path)
			})
		}
		var cmd tea.Cmd
		m.pathInput, cmd = m.pathInput.Update(msg)
		return m, cmd

	case panelNewPassphrase:
		if msg.String() == "enter" {
			pass := security.FromString(m.passInput.Value())
			m.setPanelMode(panelMenu)
			return m, m.run("change passphrase", func(ctx context.Context) error {
				return m.orch.ChangePassphrase(ctx, pass)
			})
		}
		var cmd tea.Cmd
		m.passInput, cmd = m.passInput.Update(msg)
		return m, cmd
	}

	items := m.panelItems()
	switch msg.String() {
	case "up", "k":
		if m.panelCursor > 0 {
			m.panelCursor--
		}
	case "down", "j":
		if m.panelCursor < len(items)-1 {
			m.panelCursor++
		}
	case "enter":
		switch items[m.panelCursor] {
		case itemImport:
			m.setPanelMode(panelImportPath)
		case itemPassphrase:
			m.setPanelMode(panelNewPassphrase)
		case itemExport:
			panel := m.panel
			return m, func() tea.Msg {
				panel.Export()
				return nil
			}
		}
	}
	return m, nil
}

func (m *welcomeModel) copyKey() tea.Cmd {
	if m.opts.PublicKey == nil {
		return nil
	}
	ctx, get := m.ctx, m.opts.PublicKey
	return func() tea.Msg {
		key, err := get(ctx)
		if err == nil {
			err = clipboardWrite(key)
		}
		return copiedMsg{err: err}
	}
}

func (m *welcomeModel) close() tea.Cmd {
	ctx, showAgain := m.ctx, m.showAgain
	return func() tea.Msg {
		return closedMsg{err: m.orch.CloseWelcome(ctx, showAgain)}
	}
}

func (m *welcomeModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(mainTitleStyle.Render(i18n.T("welcome.header")))
	b.WriteString("\n")
	b.WriteString(titleStyle.Render(i18n.T("welcome.basics_title")))
	b.WriteString("\n")
	for _, id := range []string{"welcome.basics_line1", "welcome.basics_line2", "welcome.basics_line3"} {
		b.WriteString(helpStyle.Render(i18n.T(id)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	var boxes []string
	if s := m.renderNovice(); s != "" {
		boxes = append(boxes, s)
	}
	if s := m.renderAdvanced(); s != "" {
		boxes = append(boxes, s)
	}
	session := m.orch.Session()
	switch {
	case len(boxes) > 0:
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
		b.WriteString("\n")
	case session.Hidden:
		b.WriteString(successStyle.Render(i18n.T("welcome.keyring_present")))
		b.WriteString("\n")
	}

	switch session.Phase {
	case welcome.PhaseGenerating:
		b.WriteString(specialStyle.Render(i18n.T("welcome.generating")) + "\n")
	case welcome.PhaseImporting:
		b.WriteString(specialStyle.Render(i18n.T("welcome.importing")) + "\n")
	case welcome.PhaseChangingPassphrase:
		b.WriteString(specialStyle.Render(i18n.T("welcome.changing_passphrase")) + "\n")
	}

	if m.dialog != nil {
		b.WriteString("\n")
		b.WriteString(m.renderDialog())
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderPrefs())
	b.WriteString("\n")

	if m.status != "" {
		st := successStyle
		if m.statusErr {
			st = errorStyle
		}
		b.WriteString(st.Render(m.status))
		b.WriteString("\n")
	}

	width := m.width - 6
	if width < 40 {
		width = 80
	}
	b.WriteString(footerStyle.Render(frame.Footer(i18n.T("welcome.help"), i18n.T("welcome.acceptance_button"), width)))
	return docStyle.Render(b.String())
}

func (m *welcomeModel) sectionBox(s section, lines []string) string {
	style := sectionStyle
	if m.section == s {
		style = focusedSectionStyle
	}
	return style.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (m *welcomeModel) renderNovice() string {
	lines := []string{titleStyle.Render(i18n.T("welcome.novice_title")), ""}
	focused := m.section == sectionNovice
	switch u := m.orch.Registry().Get(welcome.SlotNovice).(type) {
	case *welcome.GenerateKeyForm:
		if !u.HideTitle() {
			lines = append(lines, helpStyle.Render(i18n.T("gen_key.title")))
		}
		labels := []string{"gen_key.name_label", "gen_key.email_label", "gen_key.comments_label"}
		for i := range m.inputs {
			st := formItemStyle
			if focused && m.formFocus == i {
				st = formSelectedItemStyle
			}
			lines = append(lines, st.Render(i18n.T(labels[i])), m.inputs[i].View())
		}
		label := u.ActionLabel()
		if label == "" {
			label = i18n.T("gen_key.generate_button")
		}
		btn := buttonStyle
		if focused && m.formFocus == len(m.inputs) {
			btn = activeButtonStyle
		}
		lines = append(lines, btn.Render(label))
	case *welcome.Dialog:
		lines = append(lines, successStyle.Render(u.Message), activeButtonStyle.Render(i18n.T("action.ok")))
	default:
		return ""
	}
	return m.sectionBox(sectionNovice, lines)
}

func (m *welcomeModel) renderAdvanced() string {
	lines := []string{titleStyle.Render(i18n.T("welcome.advanced_title")), ""}
	focused := m.section == sectionAdvanced
	switch u := m.orch.Registry().Get(welcome.SlotAdvanced).(type) {
	case *welcome.KeyringPanel:
		if u.KeyringEncrypted() {
			lines = append(lines, helpStyle.Render(i18n.T("keymgmt.locked")))
		} else {
			lines = append(lines, helpStyle.Render(i18n.T("keymgmt.unlocked")))
		}
		lines = append(lines, "")
		labels := map[panelItem]string{
			itemImport:     i18n.T("keymgmt.import_label"),
			itemPassphrase: i18n.T("keymgmt.passphrase_label"),
			itemExport:     i18n.T("keymgmt.export_label"),
		}
		for i, item := range m.panelItems() {
			if focused && m.panelCursor == i {
				lines = append(lines, formSelectedItemStyle.Render("> "+labels[item]))
			} else {
				lines = append(lines, formItemStyle.Render("  "+labels[item]))
			}
		}
		switch m.panelMode {
		case panelImportPath:
			lines = append(lines, "", focusedStyle.Render(i18n.T("keymgmt.import_path")), m.pathInput.View())
		case panelNewPassphrase:
			lines = append(lines, "", focusedStyle.Render(i18n.T("keymgmt.new_passphrase")), m.passInput.View())
		}
	case *welcome.Dialog:
		lines = append(lines, successStyle.Render(u.Message), activeButtonStyle.Render(i18n.T("action.ok")))
	default:
		return ""
	}
	return m.sectionBox(sectionAdvanced, lines)
}

func (m *welcomeModel) renderDialog() string {
	d := m.dialog
	var buttons []string
	switch d.Input {
	case welcome.InputConfirm:
		buttons = []string{i18n.T("action.yes"), i18n.T("action.no")}
	case welcome.InputText, welcome.InputSecureText:
		buttons = []string{i18n.T("action.ok"), i18n.T("action.cancel")}
	default:
		buttons = []string{i18n.T("action.ok")}
	}
	title := d.Title
	if title == "" {
		title = i18n.T("ext.name")
	}
	fd := frame.NewDialog(title, d.Message, buttons...)
	fd.SetError(d.Error)
	if d.Input == welcome.InputText || d.Input == welcome.InputSecureText {
		fd.SetInput(m.dialogInput.View())
	}
	fd.Focus(m.dialogChoice)
	if m.width > 0 && m.width-8 < 60 {
		fd.SetWidth(m.width - 8)
	}
	return fd.Render()
}

func checkbox(on bool) string {
	if on {
		return "[x]"
	}
	return "[ ]"
}

func (m *welcomeModel) renderPrefs() string {
	lines := []string{
		titleStyle.Render(i18n.T("preferences.section_title")),
		fmt.Sprintf("%s %s", checkbox(m.showAgain), i18n.T("welcome.preference_welcome_screen")),
		helpStyle.Render(fmt.Sprintf("%s %s", checkbox(m.prefs.ActionSniffingEnabled), i18n.T("preferences.action_sniffing"))),
	}
	return strings.Join(lines, "\n")
}

// Run shows the welcome screen until the user closes it. sig must be the
// signal passed as the orchestrator's OnChange hook.
func Run(ctx context.Context, orch *welcome.Orchestrator, sig *Signal, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m := newWelcomeModel(ctx, orch, sig, opts)
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("run welcome screen: %w", err)
	}
	return nil
}

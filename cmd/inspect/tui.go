package main

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vadorovsky/bpf-linker/btf"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F87AF")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA"))

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#5F87AF"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inspectTab int

const (
	tabSections inspectTab = iota
	tabSymbols
	tabTypes
	tabCount
)

func (t inspectTab) String() string {
	switch t {
	case tabSections:
		return "sections"
	case tabSymbols:
		return "symbols"
	default:
		return "types"
	}
}

type sectionRow struct {
	name string
	kind string
	size uint64
}

type symbolRow struct {
	name    string
	kind    string
	bind    string
	section string
	size    uint64
}

type inspectModel struct {
	filename string
	err      error

	sections []sectionRow
	symbols  []symbolRow
	types    []*btf.Type

	tab      inspectTab
	selected [tabCount]int
	detail   string

	filter    textinput.Model
	filtering bool
}

type loadedMsg struct {
	err      error
	sections []sectionRow
	symbols  []symbolRow
	types    []*btf.Type
}

func newInspectModel(filename string) *inspectModel {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Width = 30
	return &inspectModel{filename: filename, filter: ti}
}

func (m *inspectModel) Init() tea.Cmd {
	return m.loadObject
}

func (m *inspectModel) loadObject() tea.Msg {
	f, err := elf.Open(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	defer f.Close()

	var msg loadedMsg
	for _, sec := range f.Sections {
		if sec.Type == elf.SHT_NULL {
			continue
		}
		msg.sections = append(msg.sections, sectionRow{
			name: sec.Name,
			kind: strings.TrimPrefix(sec.Type.String(), "SHT_"),
			size: sec.Size,
		})
	}

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return loadedMsg{err: err}
	}
	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		section := ""
		if int(s.Section) < len(f.Sections) {
			section = f.Sections[s.Section].Name
		}
		msg.symbols = append(msg.symbols, symbolRow{
			name:    s.Name,
			kind:    strings.TrimPrefix(elf.ST_TYPE(s.Info).String(), "STT_"),
			bind:    strings.TrimPrefix(elf.ST_BIND(s.Info).String(), "STB_"),
			section: section,
			size:    s.Size,
		})
	}

	if sec := f.Section(".BTF"); sec != nil {
		data, err := sec.Data()
		if err != nil {
			return loadedMsg{err: err}
		}
		types, err := btf.Decode(data)
		if err != nil {
			return loadedMsg{err: err}
		}
		msg.types = types
	}
	return msg
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.filtering {
			switch msg.String() {
			case "enter", "esc":
				m.filtering = false
				m.filter.Blur()
				if msg.String() == "esc" {
					m.filter.SetValue("")
				}
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.selected[m.tab] = 0
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "tab", "right", "l":
			m.tab = (m.tab + 1) % tabCount
			m.detail = ""

		case "shift+tab", "left", "h":
			m.tab = (m.tab + tabCount - 1) % tabCount
			m.detail = ""

		case "up", "k":
			if m.selected[m.tab] > 0 {
				m.selected[m.tab]--
			}

		case "down", "j":
			if m.selected[m.tab] < m.rowCount()-1 {
				m.selected[m.tab]++
			}

		case "/":
			m.filtering = true
			m.filter.Focus()

		case "enter":
			m.detail = m.describeSelected()

		case "esc":
			m.detail = ""
			m.filter.SetValue("")
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sections = msg.sections
		m.symbols = msg.symbols
		m.types = msg.types
	}
	return m, nil
}

func (m *inspectModel) matches(name string) bool {
	q := m.filter.Value()
	return q == "" || strings.Contains(name, q)
}

func (m *inspectModel) rowCount() int {
	n := 0
	switch m.tab {
	case tabSections:
		for _, r := range m.sections {
			if m.matches(r.name) {
				n++
			}
		}
	case tabSymbols:
		for _, r := range m.symbols {
			if m.matches(r.name) {
				n++
			}
		}
	case tabTypes:
		for _, typ := range m.types {
			if m.matches(typ.Name) {
				n++
			}
		}
	}
	return n
}

// describeSelected renders the detail pane for the highlighted row.
func (m *inspectModel) describeSelected() string {
	if m.tab != tabTypes {
		return ""
	}
	row := 0
	for i, typ := range m.types {
		if !m.matches(typ.Name) {
			continue
		}
		if row == m.selected[m.tab] {
			return describeType(m.types, btf.TypeID(i+1))
		}
		row++
	}
	return ""
}

func describeType(types []*btf.Type, id btf.TypeID) string {
	t := types[id-1]
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s %s\n", id, t.Kind, t.Name)
	switch t.Kind {
	case btf.KindInt:
		fmt.Fprintf(&b, "  %d bits, %d bytes", t.IntBits, t.Size)
		if t.IntEncoding&btf.IntSigned != 0 {
			b.WriteString(", signed")
		}
	case btf.KindStruct, btf.KindUnion:
		fmt.Fprintf(&b, "  %d bytes", t.Size)
		for _, mem := range t.Members {
			fmt.Fprintf(&b, "\n  +%-4d %s %s", mem.OffsetBits/8, mem.Name, typeName(types, mem.Type))
		}
	case btf.KindEnum:
		for _, e := range t.Enums {
			fmt.Fprintf(&b, "\n  %s = %d", e.Name, e.Value)
		}
	case btf.KindFunc:
		if t.Ref == btf.Void || int(t.Ref) > len(types) {
			b.WriteString("  ()")
			break
		}
		proto := types[t.Ref-1]
		var params []string
		for _, p := range proto.Params {
			params = append(params, p.Name+" "+typeName(types, p.Type))
		}
		fmt.Fprintf(&b, "  (%s) %s", strings.Join(params, ", "), typeName(types, proto.Ref))
	case btf.KindVar:
		fmt.Fprintf(&b, "  %s", typeName(types, t.Ref))
	case btf.KindDataSec:
		fmt.Fprintf(&b, "  %d bytes", t.Size)
		for _, v := range t.Vars {
			fmt.Fprintf(&b, "\n  +%-4d %s (%d bytes)", v.Offset, typeName(types, v.Type), v.Size)
		}
	default:
		fmt.Fprintf(&b, "  -> %s", typeName(types, t.Ref))
	}
	return b.String()
}

// typeName renders a compact C-like spelling of a type reference.
func typeName(types []*btf.Type, id btf.TypeID) string {
	if id == btf.Void || int(id) > len(types) {
		return "void"
	}
	t := types[id-1]
	switch t.Kind {
	case btf.KindPtr:
		return "*" + typeName(types, t.Ref)
	case btf.KindArray:
		return fmt.Sprintf("[%d]%s", t.NElems, typeName(types, t.Elem))
	case btf.KindConst:
		return "const " + typeName(types, t.Ref)
	case btf.KindVolatile:
		return "volatile " + typeName(types, t.Ref)
	case btf.KindStruct:
		return "struct " + t.Name
	case btf.KindUnion:
		return "union " + t.Name
	case btf.KindEnum:
		return "enum " + t.Name
	default:
		if t.Name != "" {
			return t.Name
		}
		return strings.ToLower(t.Kind.String())
	}
}

func (m *inspectModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.sections == nil {
		return "Loading object..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("BPF Object"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	var tabs []string
	for t := inspectTab(0); t < tabCount; t++ {
		label := t.String()
		if t == m.tab {
			tabs = append(tabs, activeTabStyle.Render("["+label+"]"))
		} else {
			tabs = append(tabs, tabStyle.Render(" "+label+" "))
		}
	}
	b.WriteString(strings.Join(tabs, " "))
	b.WriteString("\n\n")

	row := 0
	write := func(line string, name string) {
		if !m.matches(name) {
			return
		}
		cursor := "  "
		if row == m.selected[m.tab] {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString(cursor + line)
		}
		b.WriteString("\n")
		row++
	}

	switch m.tab {
	case tabSections:
		for _, r := range m.sections {
			write(fmt.Sprintf("%-20s %-10s %6d bytes",
				nameStyle.Render(r.name), kindStyle.Render(r.kind), r.size), r.name)
		}
	case tabSymbols:
		for _, r := range m.symbols {
			write(fmt.Sprintf("%-24s %-8s %-7s %-14s %6d bytes",
				nameStyle.Render(r.name), kindStyle.Render(r.kind), r.bind, r.section, r.size), r.name)
		}
	case tabTypes:
		if len(m.types) == 0 {
			b.WriteString(helpStyle.Render("no .BTF section in this object"))
			b.WriteString("\n")
		}
		for i, typ := range m.types {
			write(fmt.Sprintf("[%3d] %-10s %s",
				i+1, kindStyle.Render(typ.Kind.String()), nameStyle.Render(typ.Name)), typ.Name)
		}
	}

	if m.detail != "" {
		b.WriteString("\n")
		b.WriteString(m.detail)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.filtering {
		b.WriteString(m.filter.View())
	} else {
		help := "tab switch • ↑/↓ select • / filter • q quit"
		if m.tab == tabTypes {
			help = "tab switch • ↑/↓ select • enter detail • / filter • q quit"
		}
		b.WriteString(helpStyle.Render(help))
	}
	return b.String()
}

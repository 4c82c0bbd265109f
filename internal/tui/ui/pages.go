package ui

import "github.com/rivo/tview"

// Pages keeps a navigation stack on top of tview.Pages.
type Pages struct {
	*tview.Pages
	stack    []string
	onChange func(stack []string)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{Pages: tview.NewPages()}
}

// SetOnChange registers fn to run after every stack change.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push shows name on top of the stack. Pushing the current page is a no-op
// and reports false.
func (p *Pages) Push(name string) bool {
	if p.Current() == name {
		return false
	}
	if top := p.Current(); top != "" {
		p.HidePage(top)
	}
	p.stack = append(p.stack, name)
	p.show(name)
	p.notify()
	return true
}

// Pop removes the top page unless it is the last one, and returns it.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	p.show(p.Current())
	p.notify()
	return top
}

// PopTo pops until name is on top and returns the removed pages, topmost
// first. It does nothing when name is not on the stack.
func (p *Pages) PopTo(name string) []string {
	idx := -1
	for i, n := range p.stack {
		if n == name {
			idx = i
		}
	}
	if idx < 0 || idx == len(p.stack)-1 {
		return nil
	}
	var popped []string
	for i := len(p.stack) - 1; i > idx; i-- {
		p.HidePage(p.stack[i])
		popped = append(popped, p.stack[i])
	}
	p.stack = p.stack[:idx+1]
	p.show(name)
	p.notify()
	return popped
}

// Current returns the top page, or "" when the stack is empty.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Stack returns a copy of the stack, bottom first.
func (p *Pages) Stack() []string {
	return append([]string(nil), p.stack...)
}

func (p *Pages) Depth() int {
	return len(p.stack)
}

// Reset makes name the only page.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = []string{name}
	p.show(name)
	p.notify()
}

func (p *Pages) show(name string) {
	p.ShowPage(name)
	p.SendToFront(name)
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}

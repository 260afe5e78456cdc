package normalize

import (
	"github.com/beevik/etree"
)

// Action is what a prune rule does to the node it matches.
type Action int

const (
	// DropElement removes the element and its whole subtree.
	DropElement Action = iota
	// DropAttr removes a matching attribute from any element.
	DropAttr
	// StripNamespace moves elements of the namespace into no namespace.
	StripNamespace
)

// Rule matches nodes by namespace URI and local name. An empty Local on a
// StripNamespace rule matches every element of the namespace.
type Rule struct {
	Namespace string
	Local     string
	Action    Action
}

// OldFormatRules cleans pre-migration conversation XML down to message,
// body and time elements.
var OldFormatRules = []Rule{
	{Namespace: "google:metadata", Local: "google-mail-signature", Action: DropElement},
	{Namespace: "jabber:x:delay", Local: "x", Action: DropElement},
	{Namespace: "google:nosave", Local: "x", Action: DropElement},
	{Namespace: "http://jabber.org/protocol/archive", Local: "record", Action: DropElement},
	{Namespace: "http://www.w3.org/1999/xhtml", Local: "html", Action: DropElement},
	{Namespace: "http://jabber.org/protocol/xhtml-im", Local: "html", Action: DropElement},
	{Namespace: "google:archive:conversation", Local: "gap", Action: DropElement},
	{Namespace: "jabber:x:event", Local: "x", Action: DropElement},

	{Local: "iconset", Action: DropAttr},
	{Namespace: "google:internal", Local: "cid", Action: DropAttr},
	{Namespace: "google:internal", Local: "sequence-no", Action: DropAttr},
	{Namespace: "google:internal", Local: "time-stamp", Action: DropAttr},
	{Namespace: "google:internal", Local: "interop-stanza", Action: DropAttr},
	{Namespace: "google:internal", Local: "dual-delivery", Action: DropAttr},
	{Namespace: "google:internal", Local: "interop-disable-legacy-archiver", Action: DropAttr},
	{Namespace: "google:aim", Local: "new-session", Action: DropAttr},

	{Namespace: "jabber:client", Action: StripNamespace},
	{Namespace: "google:archive:conversation", Action: StripNamespace},
	{Namespace: "google:timestamp", Action: StripNamespace},
}

type ruleKey struct {
	namespace string
	local     string
}

// Pruner applies a rule table to a document in a single pass.
type Pruner struct {
	dropElements map[ruleKey]bool
	dropAttrs    map[ruleKey]bool
	strip        map[string]bool
}

func NewPruner(rules []Rule) *Pruner {
	p := &Pruner{
		dropElements: make(map[ruleKey]bool),
		dropAttrs:    make(map[ruleKey]bool),
		strip:        make(map[string]bool),
	}
	for _, r := range rules {
		switch r.Action {
		case DropElement:
			p.dropElements[ruleKey{r.Namespace, r.Local}] = true
		case DropAttr:
			p.dropAttrs[ruleKey{r.Namespace, r.Local}] = true
		case StripNamespace:
			p.strip[r.Namespace] = true
		}
	}
	return p
}

// Prune rewrites the tree under root in place.
//
// Namespace URIs are resolved for every surviving element before anything is
// changed, since stripping prefixes and declarations would alter resolution.
func (p *Pruner) Prune(root *etree.Element) {
	if root == nil {
		return
	}

	var doomed []*etree.Element
	var kept []*etree.Element
	stripped := make(map[*etree.Element]bool)
	p.collect(root, &doomed, &kept, stripped)

	for _, e := range kept {
		p.pruneAttrs(e)
	}
	for _, e := range doomed {
		if parent := e.Parent(); parent != nil {
			parent.RemoveChild(e)
		}
	}
	for e := range stripped {
		e.Space = ""
	}
	removeUnusedDeclarations(root, stripped)
}

func (p *Pruner) collect(e *etree.Element, doomed, kept *[]*etree.Element, stripped map[*etree.Element]bool) {
	uri := e.NamespaceURI()
	if p.dropElements[ruleKey{uri, e.Tag}] {
		*doomed = append(*doomed, e)
		return
	}
	*kept = append(*kept, e)
	if p.strip[uri] {
		stripped[e] = true
	}
	for _, child := range e.ChildElements() {
		p.collect(child, doomed, kept, stripped)
	}
}

func (p *Pruner) pruneAttrs(e *etree.Element) {
	attrs := e.Attr[:0]
	for _, a := range e.Attr {
		if !isDeclaration(a) && p.dropAttrs[ruleKey{a.NamespaceURI(), a.Key}] {
			continue
		}
		attrs = append(attrs, a)
	}
	e.Attr = attrs
}

func isDeclaration(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

// removeUnusedDeclarations drops xmlns declarations that no element or
// attribute in their scope refers to anymore.
func removeUnusedDeclarations(e *etree.Element, stripped map[*etree.Element]bool) {
	attrs := e.Attr[:0]
	for _, a := range e.Attr {
		if isDeclaration(a) {
			prefix := a.Key
			if a.Space == "" {
				prefix = ""
			}
			if !prefixInUse(e, prefix, stripped) {
				continue
			}
		}
		attrs = append(attrs, a)
	}
	e.Attr = attrs

	for _, child := range e.ChildElements() {
		removeUnusedDeclarations(child, stripped)
	}
}

func prefixInUse(e *etree.Element, prefix string, stripped map[*etree.Element]bool) bool {
	if prefix == "" {
		if e.Space == "" && !stripped[e] {
			return true
		}
	} else {
		if e.Space == prefix {
			return true
		}
		for _, a := range e.Attr {
			if a.Space == prefix {
				return true
			}
		}
	}
	for _, child := range e.ChildElements() {
		if prefixInUse(child, prefix, stripped) {
			return true
		}
	}
	return false
}

package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"text/template"
	"text/template/parse"
)

func parseTemplate(key, text string) (*template.Template, error) {
	tmpl, err := template.New(key).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", key, err)
	}
	return tmpl, nil
}

// Fields lists the data fields a prompt template reads, sorted and
// deduplicated. "{{.Topic.Title}}" yields "Topic.Title".
func Fields(key, text string) ([]string, error) {
	tmpl, err := parseTemplate(key, text)
	if err != nil {
		return nil, err
	}
	var out []string
	if tmpl.Tree != nil {
		walkFields(tmpl.Tree.Root, &out)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func walkFields(n parse.Node, out *[]string) {
	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walkFields(c, out)
		}
	case *parse.ActionNode:
		walkFields(n.Pipe, out)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, c := range n.Cmds {
			walkFields(c, out)
		}
	case *parse.CommandNode:
		for _, a := range n.Args {
			walkFields(a, out)
		}
	case *parse.FieldNode:
		*out = append(*out, strings.Join(n.Ident, "."))
	case *parse.IfNode:
		walkBranch(&n.BranchNode, out)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, out)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, out)
	}
}

func walkBranch(b *parse.BranchNode, out *[]string) {
	walkFields(b.Pipe, out)
	walkFields(b.List, out)
	walkFields(b.ElseList, out)
}

// Fingerprint identifies a prompt revision in logs and on generated content.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Render executes a prompt template against data. Missing fields are errors.
func Render(key, text string, data any) (string, error) {
	tmpl, err := parseTemplate(key, text)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", key, err)
	}
	return strings.TrimSpace(b.String()), nil
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dhcgn/msg-to-eml/cfb"
	"github.com/dhcgn/msg-to-eml/msg"
	"github.com/dhcgn/msg-to-eml/stats"
)

// newInspectCmd builds the inspect subcommand: a debugging view of a
// .msg file's container tree and decoded properties.
func newInspectCmd() *cobra.Command {
	var showProps bool

	cmd := &cobra.Command{
		Use:   "inspect [msg file]",
		Short: "Dump the container structure and properties of a .msg file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			f, err := cfb.Open(raw)
			if err != nil {
				return fmt.Errorf("open container: %w", err)
			}

			pterm.DefaultSection.Println("Container tree")
			root := f.Root()
			if root == nil {
				return fmt.Errorf("container has no root entry")
			}
			if err := printTree(f, root, 0); err != nil {
				return err
			}

			m, err := msg.Read(f)
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}

			pterm.DefaultSection.Println("Message")
			name, addr := m.Sender()
			pterm.Info.Printf("Subject: %s\n", m.Subject)
			pterm.Info.Printf("Sender: %s <%s>\n", name, addr)
			if !m.Date().IsZero() {
				pterm.Info.Printf("Date: %s\n", m.Date())
			}
			pterm.Info.Printf("Recipients: %d, Attachments: %d\n", len(m.Recipients), len(m.Attachments))

			if showProps {
				pterm.DefaultSection.Println("Properties")
				printProperties(m.Properties)
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&showProps, "properties", "p", false, "Also dump the decoded top-level property table")
	return cmd
}

func printTree(f *cfb.File, e *cfb.Entry, depth int) error {
	indent := strings.Repeat("  ", depth)
	switch {
	case e.IsStorage():
		fmt.Printf("%s+ %s\n", indent, displayName(e.Name))
	default:
		fmt.Printf("%s- %s (%d bytes)\n", indent, displayName(e.Name), e.Size)
	}

	if !e.IsStorage() {
		return nil
	}
	children, err := f.Children(e)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := printTree(f, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func displayName(name string) string {
	if name == "" {
		return "(root)"
	}
	return name
}

func printProperties(ps *msg.PropertySet) {
	fmt.Printf("code page: %d\n", ps.CodePage())
	counts := make(map[string]int)
	for _, tag := range ps.Tags() {
		p := ps.Get(tag)
		counts[typeLabel(p.Type)]++
		fmt.Printf("0x%04X type=0x%04X %s\n", p.Tag, uint16(p.Type), propertyValue(p))
	}

	pterm.DefaultSection.Println("Most frequent property types")
	stats.PrettyPrintTop(counts, 8)
}

func typeLabel(t msg.PropertyType) string {
	var name string
	switch t.Base() {
	case msg.TypeInt16:
		name = "int16"
	case msg.TypeInt32:
		name = "int32"
	case msg.TypeFloat32:
		name = "float32"
	case msg.TypeFloat64:
		name = "float64"
	case msg.TypeBoolean:
		name = "bool"
	case msg.TypeInt64:
		name = "int64"
	case msg.TypeString8:
		name = "string8"
	case msg.TypeUnicode:
		name = "unicode"
	case msg.TypeTime:
		name = "time"
	case msg.TypeGUID:
		name = "guid"
	case msg.TypeBinary:
		name = "binary"
	case msg.TypeObject:
		name = "object"
	default:
		return fmt.Sprintf("0x%04X", uint16(t))
	}
	if t.IsMulti() {
		return "mv-" + name
	}
	return name
}

func propertyValue(p *msg.Property) string {
	const maxLen = 60

	var value string
	switch p.Type.Base() {
	case msg.TypeInt16, msg.TypeInt32, msg.TypeInt64:
		value = fmt.Sprintf("%d", p.Int)
	case msg.TypeFloat32, msg.TypeFloat64:
		value = fmt.Sprintf("%g", p.Float)
	case msg.TypeBoolean:
		value = fmt.Sprintf("%t", p.Bool)
	case msg.TypeTime:
		value = p.Time.String()
	case msg.TypeString8, msg.TypeUnicode:
		if p.Type.IsMulti() {
			value = fmt.Sprintf("%d strings", len(p.Strs))
		} else {
			value = fmt.Sprintf("%q", p.Str)
		}
	case msg.TypeBinary, msg.TypeGUID:
		if p.Type.IsMulti() {
			value = fmt.Sprintf("%d blobs", len(p.Blobs))
		} else {
			value = fmt.Sprintf("%d bytes", len(p.Bytes))
		}
	case msg.TypeObject:
		value = "(sub-storage)"
	default:
		value = "(unknown)"
	}

	if len(value) > maxLen {
		value = value[:maxLen-3] + "..."
	}
	return value
}

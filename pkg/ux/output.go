// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux styles the lattice CLI's human-readable output.
//
// A Printer writes to one destination at one Level. Rich output uses the
// Aleutian palette and bordered tables; machine output is plain,
// prefix-tagged lines and tab-aligned columns suitable for scripts.
package ux

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Aleutian color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
)

// Level controls how rich the output is.
type Level string

const (
	// LevelAuto selects LevelRich for terminals and LevelMachine otherwise.
	LevelAuto Level = "auto"

	// LevelRich uses colors, icons and bordered tables.
	LevelRich Level = "rich"

	// LevelPlain uses icons but no color or borders.
	LevelPlain Level = "plain"

	// LevelMachine prints prefix-tagged lines for parsing.
	LevelMachine Level = "machine"
)

// ErrUnknownLevel is returned by ParseLevel.
var ErrUnknownLevel = errors.New("unknown output level")

// ParseLevel accepts the level names case-insensitively. Empty means auto.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case "":
		return LevelAuto, nil
	case LevelAuto, LevelRich, LevelPlain, LevelMachine:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

// Detect returns LevelRich when w is a terminal and LevelMachine otherwise.
func Detect(w io.Writer) Level {
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return LevelRich
	}
	return LevelMachine
}

type styles struct {
	title   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	border  lipgloss.Style
}

// Printer writes styled output to one destination.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	level  Level
	styles styles
}

// NewPrinter resolves LevelAuto against w and builds styles bound to w's
// color profile.
func NewPrinter(w io.Writer, level Level) *Printer {
	if level == LevelAuto || level == "" {
		level = Detect(w)
	}
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:     w,
		level: level,
		styles: styles{
			title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
			muted:   r.NewStyle().Foreground(ColorSlate),
			success: r.NewStyle().Foreground(ColorSuccess),
			warning: r.NewStyle().Foreground(ColorWarning),
			err:     r.NewStyle().Foreground(ColorError),
			header:  r.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
			cell:    r.NewStyle().Padding(0, 1),
			border:  r.NewStyle().Foreground(ColorTealDeep),
		},
	}
}

// Level returns the resolved level.
func (p *Printer) Level() Level { return p.level }

// Title prints a heading. Machine output omits it.
func (p *Printer) Title(text string) {
	switch p.level {
	case LevelMachine:
	case LevelRich:
		fmt.Fprintln(p.w, p.styles.title.Render(text))
	default:
		fmt.Fprintln(p.w, text)
	}
}

// Success prints a completed action.
func (p *Printer) Success(format string, args ...any) {
	p.status("OK", IconSuccess, p.styles.success, format, args...)
}

// Warning prints a non-fatal problem.
func (p *Printer) Warning(format string, args ...any) {
	p.status("WARN", IconWarning, p.styles.warning, format, args...)
}

// Error prints a failure.
func (p *Printer) Error(format string, args ...any) {
	p.status("ERROR", IconError, p.styles.err, format, args...)
}

func (p *Printer) status(tag string, icon Icon, style lipgloss.Style, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	switch p.level {
	case LevelMachine:
		fmt.Fprintf(p.w, "%s: %s\n", tag, text)
	case LevelRich:
		fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), style.Render(text))
	default:
		fmt.Fprintf(p.w, "%s %s\n", icon, text)
	}
}

// Info prints an informational line.
func (p *Printer) Info(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if p.level == LevelRich {
		fmt.Fprintf(p.w, "%s %s\n", p.styles.muted.Render("│"), text)
		return
	}
	fmt.Fprintln(p.w, text)
}

// Table prints rows under headers. Rich output draws a rounded border;
// the other levels align columns with tabs and spaces.
func (p *Printer) Table(headers []string, rows [][]string) error {
	if p.level != LevelRich {
		tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		if p.level != LevelMachine {
			fmt.Fprintln(tw, strings.Join(headers, "\t"))
		}
		for _, row := range rows {
			fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		return tw.Flush()
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.styles.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.header
			}
			return p.styles.cell
		})
	_, err := fmt.Fprintln(p.w, t.String())
	return err
}

package common

import (
	"fmt"
	"strings"
)

// DefaultWidth is the width of CLI report headers and footers
const DefaultWidth = 80

const boxWidth = DefaultWidth - 2

func rule(char string, width int) string { return strings.Repeat(char, width) }

// PrintSeparator prints a separator line with the specified character and width
func PrintSeparator(char string, width int) {
	fmt.Println(rule(char, width))
}

func PrintHeader(title string, width int) {
	fmt.Println("\n" + rule("=", width))
	fmt.Println(title)
	fmt.Println(rule("=", width))
}

func PrintFooter(message string, width int) {
	fmt.Println("\n" + rule("=", width))
	fmt.Println(message)
	fmt.Println(rule("=", width) + "\n")
}

// PrintSection opens a boxed section, e.g. one account or one asset.
func PrintSection(title string, details ...string) {
	fmt.Printf("\n┌─ %s\n", title)
	for _, d := range details {
		fmt.Printf("│  %s\n", d)
	}
	fmt.Println("├" + rule("─", boxWidth))
}

// PrintField prints one "label: value" row of a section. The last row of a
// section closes the box.
func PrintField(isLast bool, label string, value any) {
	fmt.Printf("%s %-15s: %v\n", BoxPrefix(isLast), label, value)
}

// BoxPrefix returns the box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// BoxDetailPrefix returns the prefix for detail lines under list items
func BoxDetailPrefix(isLast bool) string {
	if isLast {
		return "   "
	}
	return "│  "
}

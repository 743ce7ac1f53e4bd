package collectors

import (
	"regexp"
	"strings"
)

// FileMetrics is the per-file measurement produced by a MetricExtractor.
// Complexity is the raw count of branching, loop and logical-operator
// tokens in the file; callers derive per-function averages from it.
type FileMetrics struct {
	Lines             int
	CodeLines         int
	CommentRatio      float64
	FunctionCount     int
	LongFunctions     int
	VeryLongFunctions int
	Complexity        int
	MaxNestingDepth   int
	Smells            map[string]int
}

// MetricExtractor turns raw source text into FileMetrics. The scoring
// side only consumes the metrics, so implementations can be swapped
// without touching the collector.
type MetricExtractor interface {
	ExtractMetrics(source, languageHint string) FileMetrics
}

// Smell keys reported by the heuristic extractor.
const (
	smellLongParams    = "long_parameter_list"
	smellDeepNesting   = "deep_nesting"
	smellMagicNumbers  = "magic_numbers"
	smellTodos         = "todo_markers"
	smellDuplicateCode = "duplicate_blocks"
)

const (
	longFunctionLines     = 50
	veryLongFunctionLines = 120
	nestingSmellDepth     = 4
	duplicateWindow       = 4
	longParamCount        = 6
)

var (
	funcLinePattern = regexp.MustCompile(`^(?:export\s+)?(?:pub(?:lic)?\s+|private\s+|protected\s+|internal\s+|static\s+|async\s+)*(?:func|fn|def|function)\b|^(?:const|let|var)\s+\w+\s*=\s*(?:async\s*)?(?:function\b|\([^)]*\)\s*=>|\w+\s*=>)|^(?:public|private|protected)\s+[\w<>\[\],\s]+\s\w+\s*\(`)
	branchPattern   = regexp.MustCompile(`\b(?:if|else if|elif|for|while|case|when|catch|except|rescue)\b`)
	wordBoolPattern = regexp.MustCompile(`\b(?:and|or)\b`)
	paramsPattern   = regexp.MustCompile(`\(([^()]*)\)`)
	magicNumPattern = regexp.MustCompile(`(?:^|[^\w.])(\d{3,})(?:[^\w.]|$)`)
	constishPattern = regexp.MustCompile(`\b(?:const|final|static|enum)\b|#define`)
)

// HeuristicExtractor approximates code metrics with line scanning and
// token counting. It trades precision for uniform behavior across
// languages and zero parser dependencies.
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

func (e *HeuristicExtractor) ExtractMetrics(source, languageHint string) FileMetrics {
	m := FileMetrics{Smells: map[string]int{}}
	lines := strings.Split(source, "\n")
	m.Lines = len(lines)

	braceless := languageHint == "python"
	wordBooleans := languageHint == "python" || languageHint == "ruby"

	commentLines := 0
	depth := 0
	inBlockComment := false
	var functionStarts []int
	var codeLines []string

	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.Contains(line, "TODO") || strings.Contains(line, "FIXME") || strings.Contains(line, "HACK") {
			m.Smells[smellTodos]++
		}

		if inBlockComment {
			commentLines++
			if strings.Contains(line, "*/") {
				inBlockComment = false
			}
			continue
		}
		if strings.HasPrefix(line, "/*") {
			commentLines++
			if !strings.Contains(line, "*/") {
				inBlockComment = true
			}
			continue
		}
		if isLineComment(line) {
			commentLines++
			continue
		}

		m.CodeLines++
		codeLines = append(codeLines, line)

		m.Complexity += len(branchPattern.FindAllString(line, -1))
		m.Complexity += strings.Count(line, "&&") + strings.Count(line, "||")
		if wordBooleans {
			m.Complexity += len(wordBoolPattern.FindAllString(line, -1))
		}

		if braceless {
			if d := leadingIndent(raw) / 4; d > m.MaxNestingDepth {
				m.MaxNestingDepth = d
			}
		} else {
			opens := strings.Count(line, "{")
			closes := strings.Count(line, "}")
			if depth+opens > m.MaxNestingDepth {
				m.MaxNestingDepth = depth + opens
			}
			depth += opens - closes
			if depth < 0 {
				depth = 0
			}
		}

		if funcLinePattern.MatchString(line) {
			functionStarts = append(functionStarts, i)
			if params := paramsPattern.FindStringSubmatch(line); params != nil {
				if strings.Count(params[1], ",") >= longParamCount-1 {
					m.Smells[smellLongParams]++
				}
			}
		} else if !constishPattern.MatchString(line) {
			m.Smells[smellMagicNumbers] += len(magicNumPattern.FindAllString(line, -1))
		}
	}

	m.FunctionCount = len(functionStarts)
	for i, start := range functionStarts {
		end := m.Lines
		if i+1 < len(functionStarts) {
			end = functionStarts[i+1]
		}
		switch length := end - start; {
		case length > veryLongFunctionLines:
			m.VeryLongFunctions++
		case length > longFunctionLines:
			m.LongFunctions++
		}
	}

	if m.MaxNestingDepth > nestingSmellDepth {
		m.Smells[smellDeepNesting] = m.MaxNestingDepth - nestingSmellDepth
	}
	if dups := duplicateBlocks(codeLines); dups > 0 {
		m.Smells[smellDuplicateCode] = dups
	}

	if total := commentLines + m.CodeLines; total > 0 {
		m.CommentRatio = float64(commentLines) / float64(total)
	}
	return m
}

func isLineComment(line string) bool {
	for _, prefix := range []string{"//", "#", "*", "--"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func leadingIndent(raw string) int {
	indent := 0
	for _, r := range raw {
		switch r {
		case ' ':
			indent++
		case '\t':
			indent += 4
		default:
			return indent
		}
	}
	return indent
}

// duplicateBlocks counts distinct runs of consecutive substantial lines
// that appear more than once in the file. Deliberately naive: it hashes
// sliding windows of trimmed lines, nothing smarter.
func duplicateBlocks(codeLines []string) int {
	if len(codeLines) < duplicateWindow {
		return 0
	}
	seen := make(map[string]int)
	dups := 0
	for i := 0; i+duplicateWindow <= len(codeLines); i++ {
		substantial := true
		for _, l := range codeLines[i : i+duplicateWindow] {
			if len(l) < 8 {
				substantial = false
				break
			}
		}
		if !substantial {
			continue
		}
		key := strings.Join(codeLines[i:i+duplicateWindow], "\n")
		seen[key]++
		if seen[key] == 2 {
			dups++
		}
	}
	return dups
}

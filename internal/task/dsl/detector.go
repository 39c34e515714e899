// Package dsl 处理内核 DSL 标签、源码文件命名与提交路径解析。
package dsl

import (
	"path/filepath"
	"regexp"
	"strings"
)

// 已知 DSL 标签
const (
	Triton  = "triton"
	CuteDSL = "cutedsl"
	PyTorch = "pytorch"
	Helion  = "helion"
	CUDA    = "cuda"
	HIP     = "hip"
	CPP     = "cpp"
)

// SourceKind 源码类型，决定暂存文件的扩展名
type SourceKind string

const (
	SourcePython  SourceKind = "python"
	SourceCUDA    SourceKind = "cuda"
	SourceCPP     SourceKind = "cpp"
	SourceUnknown SourceKind = ""
)

var aliases = map[string]string{
	"cute":      CuteDSL,
	"cute-dsl":  CuteDSL,
	"cute_dsl":  CuteDSL,
	"torch":     PyTorch,
	"cuda-c":    CUDA,
	"cuda_c":    CUDA,
	"c++":       CPP,
	"rocm":      HIP,
	"openai-tl": Triton,
}

var sourceKinds = map[string]SourceKind{
	Triton:  SourcePython,
	CuteDSL: SourcePython,
	PyTorch: SourcePython,
	Helion:  SourcePython,
	CUDA:    SourceCUDA,
	HIP:     SourceCUDA,
	CPP:     SourceCPP,
}

// Normalize 统一 DSL 标签：小写、去空白、别名替换
func Normalize(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if canonical, ok := aliases[tag]; ok {
		return canonical
	}
	return tag
}

// KindOf 返回 DSL 的源码类型，未知 DSL 按 Python 处理
func KindOf(dsl string) SourceKind {
	if kind, ok := sourceKinds[Normalize(dsl)]; ok {
		return kind
	}
	return SourcePython
}

// DetectByExtension 根据文件扩展名判断源码类型
func DetectByExtension(filename string) SourceKind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".py":
		return SourcePython
	case ".cu", ".cuh":
		return SourceCUDA
	case ".cpp", ".cc", ".cxx", ".c", ".h", ".hpp":
		return SourceCPP
	default:
		return SourceUnknown
	}
}

// Compatible 文件扩展名与 DSL 是否匹配；没有文件名或扩展名未知时不做限制
func Compatible(dsl, filename string) bool {
	detected := DetectByExtension(filename)
	if detected == SourceUnknown {
		return true
	}
	kind := KindOf(dsl)
	// CUDA 工具链也接受 C++ 源文件
	if kind == SourceCUDA && detected == SourceCPP {
		return true
	}
	return detected == kind
}

// CodeFileName 提交代码在工作目录中的文件名
func CodeFileName(dsl string) string {
	switch KindOf(dsl) {
	case SourceCUDA:
		return "submission.cu"
	case SourceCPP:
		return "submission.cpp"
	default:
		return "submission.py"
	}
}

// KnownOverloads 路径中可识别的重载目录名
var KnownOverloads = []string{"Tensor", "Float", "Int", "Double", "Half", "BFloat16"}

var versionedName = regexp.MustCompile(`^([a-zA-Z_]+?)(?:_v\d+)?$`)

// ParseKernelPath 从 <op>/<Overload>/<name>_vN.ext 形式的路径中解析算子和重载。
// 父目录不是已知重载时，父目录即算子；都解析不到时尝试从文件名解析。
func ParseKernelPath(path string) (operation, overload string) {
	clean := filepath.ToSlash(filepath.Clean(path))
	parts := strings.Split(clean, "/")

	if len(parts) >= 2 {
		parent := parts[len(parts)-2]
		var grandparent string
		if len(parts) >= 3 {
			grandparent = parts[len(parts)-3]
		}
		if isKnownOverload(parent) && grandparent != "" && grandparent != "." {
			return grandparent, parent
		}
		if parent != "." && parent != ".." {
			operation = parent
		}
	}

	if operation == "" {
		stem := strings.TrimSuffix(parts[len(parts)-1], filepath.Ext(clean))
		if m := versionedName.FindStringSubmatch(stem); m != nil {
			operation = m[1]
		}
	}
	return operation, overload
}

func isKnownOverload(name string) bool {
	for _, o := range KnownOverloads {
		if o == name {
			return true
		}
	}
	return false
}

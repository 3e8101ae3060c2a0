package analyze

import (
	"fmt"
	"sort"

	"github.com/xyproto/pe67/internal/engine"
)

// Signature is the curated parameter-count/type hint for one WinAPI entry
// point, per spec.md §4.6 "a small, curated signature catalog". Consulting
// it never changes the decompilation when an entry is missing — it only
// enriches a rendered comment.
type Signature struct {
	DLL    string
	Symbol string
	Params []string // C-style type names, in argument order
}

// winAPICatalog is deliberately small: the handful of entry points common
// enough to show up in nearly every hand-written or compiler-emitted PE
// that links kernel32/user32, plus the two S2 names.
var winAPICatalog = map[string]Signature{
	"kernel32.dll!GetProcAddress":  {"kernel32.dll", "GetProcAddress", []string{"HMODULE", "LPCSTR"}},
	"kernel32.dll!LoadLibraryA":    {"kernel32.dll", "LoadLibraryA", []string{"LPCSTR"}},
	"kernel32.dll!LoadLibraryW":    {"kernel32.dll", "LoadLibraryW", []string{"LPCWSTR"}},
	"kernel32.dll!ExitProcess":     {"kernel32.dll", "ExitProcess", []string{"UINT"}},
	"kernel32.dll!CreateFileA":     {"kernel32.dll", "CreateFileA", []string{"LPCSTR", "DWORD", "DWORD", "LPSECURITY_ATTRIBUTES", "DWORD", "DWORD", "HANDLE"}},
	"kernel32.dll!ReadFile":        {"kernel32.dll", "ReadFile", []string{"HANDLE", "LPVOID", "DWORD", "LPDWORD", "LPOVERLAPPED"}},
	"kernel32.dll!WriteFile":       {"kernel32.dll", "WriteFile", []string{"HANDLE", "LPCVOID", "DWORD", "LPDWORD", "LPOVERLAPPED"}},
	"kernel32.dll!VirtualAlloc":    {"kernel32.dll", "VirtualAlloc", []string{"LPVOID", "SIZE_T", "DWORD", "DWORD"}},
	"kernel32.dll!VirtualProtect":  {"kernel32.dll", "VirtualProtect", []string{"LPVOID", "SIZE_T", "DWORD", "PDWORD"}},
	"kernel32.dll!CloseHandle":     {"kernel32.dll", "CloseHandle", []string{"HANDLE"}},
	"user32.dll!MessageBoxA":       {"user32.dll", "MessageBoxA", []string{"HWND", "LPCSTR", "LPCSTR", "UINT"}},
	"msvcrt.dll!printf":            {"msvcrt.dll", "printf", []string{"const char*", "..."}},
	"msvcrt.dll!malloc":            {"msvcrt.dll", "malloc", []string{"size_t"}},
	"msvcrt.dll!free":              {"msvcrt.dll", "free", []string{"void*"}},
	"ntdll.dll!RtlAllocateHeap":    {"ntdll.dll", "RtlAllocateHeap", []string{"PVOID", "ULONG", "SIZE_T"}},
}

var catalogSymbolsByDLL map[string][]string

func init() {
	catalogSymbolsByDLL = make(map[string][]string)
	for _, sig := range winAPICatalog {
		catalogSymbolsByDLL[sig.DLL] = append(catalogSymbolsByDLL[sig.DLL], sig.Symbol)
	}
	for dll := range catalogSymbolsByDLL {
		sort.Strings(catalogSymbolsByDLL[dll])
	}
}

// LookupSignature returns the catalog entry for dll!symbol, if any, falling
// back to a near-match (stripped A/W suffix, case differences) via
// engine.NearestNames before giving up.
func LookupSignature(dll, symbol string) (Signature, bool) {
	key := fmt.Sprintf("%s!%s", dll, symbol)
	if sig, ok := winAPICatalog[key]; ok {
		return sig, true
	}
	candidates := catalogSymbolsByDLL[dll]
	near := engine.NearestNames(symbol, candidates, 1)
	if len(near) == 0 {
		return Signature{}, false
	}
	sig, ok := winAPICatalog[fmt.Sprintf("%s!%s", dll, near[0])]
	return sig, ok
}

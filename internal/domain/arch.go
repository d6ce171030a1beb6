package domain

// ArchMainline is a pseudo-architecture that expands to the full
// supported set. It never appears on a published Job.
const ArchMainline = "mainline"

// SupportedArchitectures is the fixed set of build targets, sorted.
// Follows the autobuild mainline architecture group.
var SupportedArchitectures = []string{
	"amd64",
	"arm64",
	"loongarch64",
	"loongson3",
	"mips64r6el",
	"ppc64el",
	"riscv64",
}

// IsSupportedArch reports whether arch is a known build target.
func IsSupportedArch(arch string) bool {
	for _, a := range SupportedArchitectures {
		if a == arch {
			return true
		}
	}
	return false
}

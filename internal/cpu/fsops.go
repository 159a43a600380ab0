package cpu

import "os"

func sysRenameFunc(a, b string) error { return os.Rename(a, b) }
func sysUnlinkFunc(a, _ string) error { return os.Remove(a) }
func sysMkdirFunc(a, _ string) error  { return os.Mkdir(a, 0o755) }
func sysRmdirFunc(a, _ string) error  { return os.Remove(a) }

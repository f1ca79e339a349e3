// Command mount is the thin host adaptor of SPEC_FULL.md's C11: it
// loads a volume through fs.Mount and, instead of binding to a real
// kernel FUSE session, exposes the same operation surface as an
// interactive line-oriented shell for manual exercising and scripting.
//
// Grounded on cmd/fsexplorer/main.go's repl (bufio-read command loop,
// switch on the first token, a running pwd) generalized from its
// read-only cat/cd/ls/pwd set to the full create/write/link/rename
// surface the new synchronous fs package exposes.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mlaz/OperatingSystemsFS/fs"
)

func main() {
	var filename string
	flag.StringVar(&filename, "file", "", "the SOFS11 volume image to mount")
	flag.Parse()

	if filename == "" {
		log.Fatal("usage: mount -file dev")
	}

	volume, err := fs.Mount(filename)
	if err != nil {
		log.Fatalf("mount: %v", err)
	}
	defer func() {
		if err := volume.Unmount(); err != nil {
			log.Printf("unmount: %v", err)
		}
	}()

	proc := volume.RootProcess(0, 0)
	repl(filename, proc)
}

func repl(filename string, proc *fs.Process) {
	fmt.Println("sofs11 interactive shell")
	fmt.Printf("mounted %s\n", filename)
	fmt.Println("enter '?' for a list of commands")

	cwd := "/"
	in := bufio.NewReader(os.Stdin)

	for {
		fmt.Printf("%s> ", cwd)
		line, err := in.ReadString('\n')
		if err != nil {
			fmt.Println()
			return
		}
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}

		switch tokens[0] {
		case "?", "help":
			printHelp()
		case "exit", "quit":
			return
		case "pwd":
			fmt.Println(cwd)
		case "cd":
			if len(tokens) < 2 {
				fmt.Println("usage: cd path")
				continue
			}
			if err := proc.Chdir(tokens[1]); err != nil {
				fmt.Printf("cd: %v\n", err)
				continue
			}
			cwd = resolveDisplayPath(cwd, tokens[1])
		case "ls":
			path := "."
			if len(tokens) >= 2 {
				path = tokens[1]
			}
			entries, err := proc.ReadDir(path)
			if err != nil {
				fmt.Printf("ls: %v\n", err)
				continue
			}
			for _, e := range entries {
				fmt.Printf("%8d  %s\n", e.Inode, e.Name)
			}
		case "stat":
			if len(tokens) < 2 {
				fmt.Println("usage: stat path")
				continue
			}
			st, err := proc.Stat(tokens[1])
			if err != nil {
				fmt.Printf("stat: %v\n", err)
				continue
			}
			fmt.Printf("inode=%d type=%d perm=%#o links=%d owner=%d group=%d size=%d\n",
				st.Inode, st.Type, st.Perm, st.Refcount, st.Owner, st.Group, st.Size)
		case "mkdir":
			if len(tokens) < 2 {
				fmt.Println("usage: mkdir path")
				continue
			}
			if err := proc.Mkdir(tokens[1], 0o755); err != nil {
				fmt.Printf("mkdir: %v\n", err)
			}
		case "rmdir":
			if len(tokens) < 2 {
				fmt.Println("usage: rmdir path")
				continue
			}
			if err := proc.Rmdir(tokens[1]); err != nil {
				fmt.Printf("rmdir: %v\n", err)
			}
		case "touch":
			if len(tokens) < 2 {
				fmt.Println("usage: touch path")
				continue
			}
			fd, err := proc.Open(tokens[1], fs.OCreat|fs.ORdWr, 0o644)
			if err != nil {
				fmt.Printf("touch: %v\n", err)
				continue
			}
			proc.Close(fd)
		case "rm":
			if len(tokens) < 2 {
				fmt.Println("usage: rm path")
				continue
			}
			if err := proc.Unlink(tokens[1]); err != nil {
				fmt.Printf("rm: %v\n", err)
			}
		case "cat":
			if len(tokens) < 2 {
				fmt.Println("usage: cat path")
				continue
			}
			fd, err := proc.Open(tokens[1], fs.ORdOnly, 0)
			if err != nil {
				fmt.Printf("cat: %v\n", err)
				continue
			}
			buf := make([]byte, 4096)
			for {
				n, err := proc.Read(fd, buf)
				if n > 0 {
					os.Stdout.Write(buf[:n])
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					fmt.Printf("cat: %v\n", err)
					break
				}
			}
			fmt.Println()
			proc.Close(fd)
		case "write":
			if len(tokens) < 3 {
				fmt.Println("usage: write path text...")
				continue
			}
			fd, err := proc.Open(tokens[1], fs.OCreat|fs.OWrOnly|fs.OTrunc, 0o644)
			if err != nil {
				fmt.Printf("write: %v\n", err)
				continue
			}
			text := strings.Join(tokens[2:], " ") + "\n"
			if _, err := proc.Write(fd, []byte(text)); err != nil {
				fmt.Printf("write: %v\n", err)
			}
			proc.Close(fd)
		case "ln":
			if len(tokens) < 3 {
				fmt.Println("usage: ln oldpath newpath")
				continue
			}
			if err := proc.Link(tokens[1], tokens[2]); err != nil {
				fmt.Printf("ln: %v\n", err)
			}
		case "symlink":
			if len(tokens) < 3 {
				fmt.Println("usage: symlink target linkpath")
				continue
			}
			if err := proc.Symlink(tokens[1], tokens[2]); err != nil {
				fmt.Printf("symlink: %v\n", err)
			}
		case "readlink":
			if len(tokens) < 2 {
				fmt.Println("usage: readlink path")
				continue
			}
			target, err := proc.Readlink(tokens[1])
			if err != nil {
				fmt.Printf("readlink: %v\n", err)
				continue
			}
			fmt.Println(target)
		case "mv":
			if len(tokens) < 3 {
				fmt.Println("usage: mv oldpath newpath")
				continue
			}
			if err := proc.Rename(tokens[1], tokens[2]); err != nil {
				fmt.Printf("mv: %v\n", err)
			}
		case "chmod":
			if len(tokens) < 3 {
				fmt.Println("usage: chmod mode path")
				continue
			}
			perm, err := strconv.ParseUint(tokens[1], 8, 16)
			if err != nil {
				fmt.Printf("chmod: %v\n", err)
				continue
			}
			if err := proc.Chmod(tokens[2], uint16(perm)); err != nil {
				fmt.Printf("chmod: %v\n", err)
			}
		default:
			fmt.Printf("%s is not a valid command, enter '?' for help\n", tokens[0])
		}
	}
}

func printHelp() {
	fmt.Println("commands:")
	fmt.Println("  pwd                     show current directory")
	fmt.Println("  cd path                 change directory")
	fmt.Println("  ls [path]               list directory entries")
	fmt.Println("  stat path               show inode attributes")
	fmt.Println("  mkdir path              create a directory")
	fmt.Println("  rmdir path              remove an empty directory")
	fmt.Println("  touch path              create an empty regular file")
	fmt.Println("  rm path                 unlink a name")
	fmt.Println("  cat path                print a file's contents")
	fmt.Println("  write path text...      overwrite a file with text")
	fmt.Println("  ln oldpath newpath      add a hard link")
	fmt.Println("  symlink target linkpath create a symbolic link")
	fmt.Println("  readlink path           print a symlink's target")
	fmt.Println("  mv oldpath newpath      rename or move")
	fmt.Println("  chmod mode path         change permission bits (octal)")
	fmt.Println("  exit                    leave the shell")
}

// resolveDisplayPath keeps the prompt's shown path roughly in sync with
// Chdir, without re-deriving the real path from the volume -- SOFS11
// keeps no reverse name index to do that exactly. It folds "." and ".."
// lexically; symlinks are not expanded, so after a cd through a symlink
// the prompt shows the link's path rather than its target's.
func resolveDisplayPath(cwd, arg string) string {
	if strings.HasPrefix(arg, "/") {
		return cleanPath(arg)
	}
	if cwd == "/" {
		return cleanPath("/" + arg)
	}
	return cleanPath(cwd + "/" + arg)
}

func cleanPath(p string) string {
	parts := strings.Split(p, "/")
	var out []string
	for _, part := range parts {
		switch part {
		case "", ".":
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	return "/" + strings.Join(out, "/")
}

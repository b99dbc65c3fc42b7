// Package group implements the persistent group store.
//
// Each group is one text file named after the group:
//
//	id=<u32>
//	mcast=<dotted-quad>
//	port=<u16>
//	<member1>
//	<member2>
//	...
//
// The first member is the creator. Membership is append-only; there is no
// leave operation, a client simply drops the multicast group locally.
//
// Group ids are monotonically assigned and never reused: NextID scans every
// persisted file and returns max+1. The multicast endpoint is derived from
// the id (239.0.0.<1+id>, port 7000+id), so endpoints are unique per group.
package group

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/lanchat/lanchat/internal/protocol/tlv"
)

const (
	mcastBase      = "239.0.0."
	mcastPortBase  = 7000
	mcastAddrStart = 1
)

var (
	// ErrNotFound means no group file exists for the name.
	ErrNotFound = errors.New("group: not found")

	// ErrExists means Create would collide with an existing group.
	ErrExists = errors.New("group: already exists")

	// ErrAlreadyMember means AddMember was called for an existing member.
	ErrAlreadyMember = errors.New("group: already a member")

	// ErrInvalidName means the group name is empty, oversize, or unsafe as
	// a file name.
	ErrInvalidName = errors.New("group: invalid name")
)

// Info is the group metadata handed to clients so they can join the
// multicast endpoint.
type Info struct {
	Name      string
	McastAddr string
	McastPort uint16
	ID        uint32
}

// WireInfo converts to the fixed-width wire representation.
func (i *Info) WireInfo() *tlv.GroupInfo {
	return &tlv.GroupInfo{
		Name:      i.Name,
		McastAddr: i.McastAddr,
		McastPort: i.McastPort,
		ID:        i.ID,
	}
}

// Store is the file-backed group store rooted at a groups directory.
// Every operation runs under the store mutex.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore returns a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("group: create directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether a group file exists for name.
func (s *Store) Exists(name string) bool {
	if !tlv.ValidName(name) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(name))
	return err == nil
}

// Create allocates the next id, derives the multicast endpoint, and persists
// the group with creator as its sole member. A name collision is refused.
func (s *Store) Create(name, creator string) (*Info, error) {
	if !tlv.ValidName(name) {
		return nil, ErrInvalidName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(name)
	if _, err := os.Stat(path); err == nil {
		return nil, ErrExists
	}

	id, err := s.nextID()
	if err != nil {
		return nil, err
	}

	info := &Info{
		Name:      name,
		McastAddr: fmt.Sprintf("%s%d", mcastBase, mcastAddrStart+id),
		McastPort: uint16(mcastPortBase + id),
		ID:        id,
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("group: create %s: %w", path, err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "id=%d\nmcast=%s\nport=%d\n%s\n",
		info.ID, info.McastAddr, info.McastPort, creator)
	if err != nil {
		return nil, fmt.Errorf("group: write %s: %w", path, err)
	}
	return info, nil
}

// NextID returns one more than the largest persisted group id, or 1 when the
// directory holds no groups.
func (s *Store) NextID() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID()
}

// nextID scans all group files for the maximum id. Caller holds s.mu.
func (s *Store) nextID() (uint32, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, fmt.Errorf("group: scan %s: %w", s.dir, err)
	}

	var maxID uint32
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, _, err := s.read(e.Name())
		if err != nil {
			continue
		}
		if info.ID > maxID {
			maxID = info.ID
		}
	}
	return maxID + 1, nil
}

// GetInfo loads the metadata of one group.
func (s *Store) GetInfo(name string) (*Info, error) {
	if !tlv.ValidName(name) {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	info, _, err := s.read(name)
	return info, err
}

// Members returns the ordered member list of a group. The first entry is the
// creator.
func (s *Store) Members(name string) ([]string, error) {
	if !tlv.ValidName(name) {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, members, err := s.read(name)
	return members, err
}

// HasMember reports whether login is a member of the named group. A missing
// group reads as false.
func (s *Store) HasMember(name, login string) bool {
	if !tlv.ValidName(name) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, members, err := s.read(name)
	if err != nil {
		return false
	}
	for _, m := range members {
		if m == login {
			return true
		}
	}
	return false
}

// AddMember appends login to the group's member list. Joining twice is
// reported as ErrAlreadyMember without modifying the file.
func (s *Store) AddMember(name, login string) (*Info, error) {
	if !tlv.ValidName(name) {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, members, err := s.read(name)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m == login {
			return info, ErrAlreadyMember
		}
	}

	f, err := os.OpenFile(s.path(name), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("group: append %s: %w", s.path(name), err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s\n", login); err != nil {
		return nil, fmt.Errorf("group: append %s: %w", s.path(name), err)
	}
	return info, nil
}

// List enumerates all persisted group names in directory order.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("group: list %s: %w", s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// UserGroups returns the info of every group that login belongs to. Emitted
// after a successful LOGIN so the client can join its multicast groups.
func (s *Store) UserGroups(login string) ([]*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("group: list %s: %w", s.dir, err)
	}

	var infos []*Info
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, members, err := s.read(e.Name())
		if err != nil {
			continue
		}
		for _, m := range members {
			if m == login {
				infos = append(infos, info)
				break
			}
		}
	}
	return infos, nil
}

// read parses one group file. Caller holds s.mu.
func (s *Store) read(name string) (*Info, []string, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("group: open %s: %w", s.path(name), err)
	}
	defer f.Close()

	info := &Info{Name: name}
	var members []string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "id="):
			id, err := strconv.ParseUint(line[len("id="):], 10, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("group: %s: bad id line %q", name, line)
			}
			info.ID = uint32(id)
		case strings.HasPrefix(line, "mcast="):
			info.McastAddr = line[len("mcast="):]
		case strings.HasPrefix(line, "port="):
			port, err := strconv.ParseUint(line[len("port="):], 10, 16)
			if err != nil {
				return nil, nil, fmt.Errorf("group: %s: bad port line %q", name, line)
			}
			info.McastPort = uint16(port)
		case line != "":
			members = append(members, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("group: read %s: %w", s.path(name), err)
	}
	return info, members, nil
}

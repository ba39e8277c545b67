package client

import (
	"strconv"
	"strings"

	"github.com/codewiresh/dcon/internal/protocol"
)

// Result keys of the list commands below.
const (
	KeyJobs        = "jobs"
	KeyClients     = "clients"
	KeyPools       = "pools"
	KeyVolumes     = "volumes"
	KeyStorages    = "storages"
	KeyJobLog      = "joblog"
	KeyDirectories = "directories"
	KeyFiles       = "files"
)

// JobFilter narrows "list jobs". Zero fields are left out.
type JobFilter struct {
	Client string
	Job    string
	Pool   string
	Status string // job status letter, e.g. "T" or "f"
	Level  string // F, I or D
	Days   int
	Hours  int
	Last   bool // only the most recent run of each job
}

type builder struct{ parts []string }

func command(verb ...string) *builder { return &builder{parts: verb} }

func (b *builder) arg(key, value string) *builder {
	if value != "" {
		b.parts = append(b.parts, protocol.Arg(key, value))
	}
	return b
}

func (b *builder) num(key string, n int) *builder {
	if n > 0 {
		b.parts = append(b.parts, key+"="+strconv.Itoa(n))
	}
	return b
}

func (b *builder) flag(name string, on bool) *builder {
	if on {
		b.parts = append(b.parts, name)
	}
	return b
}

func (b *builder) String() string { return strings.Join(b.parts, " ") }

// ListJobs lists job records.
func ListJobs(f JobFilter) string {
	return command("list", "jobs").
		arg("client", f.Client).
		arg("job", f.Job).
		arg("pool", f.Pool).
		arg("jobstatus", f.Status).
		arg("joblevel", f.Level).
		num("days", f.Days).
		num("hours", f.Hours).
		flag("last", f.Last).
		String()
}

// ListClients lists file daemons known to the catalog.
func ListClients() string { return "list clients" }

// ListPools lists pools.
func ListPools() string { return "list pools" }

// ListVolumes lists volumes, optionally of one pool.
func ListVolumes(pool string) string {
	return command("list", "volumes").arg("pool", pool).String()
}

// ListStorages lists storage resources.
func ListStorages() string { return "list storages" }

// JobLog lists the log lines of one job.
func JobLog(jobID int) string {
	return command("list", "joblog").num("jobid", jobID).String()
}

// DirectorVersion asks for the director's version line.
func DirectorVersion() string { return "version" }

// StatusClient queries a file daemon through the director.
func StatusClient(client string) string {
	return command("status").arg("client", client).String()
}

// BvfsUpdate builds the directory cache of the given jobs.
func BvfsUpdate(jobIDs ...int) string {
	return command(".bvfs_update").arg("jobid", joinIDs(jobIDs)).String()
}

// BvfsLsDirs lists directories below path in the backup of the given jobs.
func BvfsLsDirs(path string, jobIDs ...int) string {
	return command(".bvfs_lsdirs").arg("jobid", joinIDs(jobIDs)).arg("path", path).String()
}

// BvfsLsFiles lists files in path in the backup of the given jobs.
func BvfsLsFiles(path string, jobIDs ...int) string {
	return command(".bvfs_lsfiles").arg("jobid", joinIDs(jobIDs)).arg("path", path).String()
}

func joinIDs(ids []int) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = strconv.Itoa(id)
	}
	return strings.Join(s, ",")
}

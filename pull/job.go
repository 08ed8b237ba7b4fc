package pull

import (
	"earthfs/index"
	"earthfs/keycodec"
	"earthfs/kinderr"
	"earthfs/kvstore"

	"github.com/google/uuid"
)

// PullJob is the persisted configuration for one pull replication job: a
// remote host to stream from, the query it streams, the credentials to
// authenticate with, and the last session cookie the peer issued (empty
// until a first auth succeeds; carrying it across restarts lets a resumed
// job reconnect without an immediate re-auth round-trip).
type PullJob struct {
	ID       uuid.UUID
	UserID   string
	Host     string
	Username string
	Password string
	Cookie   string
	Query    string
}

func encodePullJob(j PullJob) []byte {
	return keycodec.NewBuilder().
		String(j.UserID).
		String(j.Host).
		String(j.Username).
		String(j.Password).
		String(j.Cookie).
		String(j.Query).
		Bytes()
}

func decodePullJob(id uuid.UUID, value []byte) (PullJob, error) {
	r := keycodec.NewReader(value)
	userID, err := r.String()
	if err != nil {
		return PullJob{}, err
	}
	host, err := r.String()
	if err != nil {
		return PullJob{}, err
	}
	username, err := r.String()
	if err != nil {
		return PullJob{}, err
	}
	password, err := r.String()
	if err != nil {
		return PullJob{}, err
	}
	cookie, err := r.String()
	if err != nil {
		return PullJob{}, err
	}
	query, err := r.String()
	if err != nil {
		return PullJob{}, err
	}
	return PullJob{ID: id, UserID: userID, Host: host, Username: username, Password: password, Cookie: cookie, Query: query}, nil
}

func pullJobKey(id uuid.UUID) []byte {
	return keycodec.NewKey(index.TagPullJobByID).String(id.String()).Bytes()
}

// SaveJob persists job, assigning a fresh ID when job.ID is the zero UUID.
func SaveJob(txn *kvstore.Txn, job PullJob) (PullJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if err := txn.Put(pullJobKey(job.ID), encodePullJob(job), kvstore.Overwrite); err != nil {
		return PullJob{}, kinderr.New(kinderr.Fatal, "pull.SaveJob", err)
	}
	return job, nil
}

// LoadJob reads a persisted job by ID.
func LoadJob(txn *kvstore.Txn, id uuid.UUID) (PullJob, bool, error) {
	val, ok, err := txn.Get(pullJobKey(id))
	if err != nil || !ok {
		return PullJob{}, ok, err
	}
	job, err := decodePullJob(id, val)
	return job, true, err
}

// DeleteJob removes a persisted job's row. It touches only the stored
// configuration; a Job already running from it is not stopped.
func DeleteJob(txn *kvstore.Txn, id uuid.UUID) error {
	return txn.Delete(pullJobKey(id))
}

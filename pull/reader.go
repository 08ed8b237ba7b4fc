package pull

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"earthfs/kinderr"
	"earthfs/metafile"
	"earthfs/uri"
)

// readerLoop: check shutdown, read one line under the connection mutex,
// reserve two queue slots (also under the mutex, so reservation order
// equals stream order), release the mutex, then dereference the URI, the
// network round-trip, outside it.
func (j *Job) readerLoop(ctx context.Context, id int) {
	log := j.log.With().Int("reader", id).Logger()
	for {
		if ctx.Err() != nil {
			return
		}

		j.connMu.Lock()
		line, err := j.readLine(ctx, &log)
		if err != nil {
			j.connMu.Unlock()
			return
		}

		a, b, ok := j.queue.Reserve()
		if !ok {
			j.connMu.Unlock()
			return
		}
		j.connMu.Unlock()

		contentURI, parseErr := uri.Parse(line)
		if parseErr != nil {
			log.Warn().Err(parseErr).Str("line", line).Msg("pull: malformed stream line, bubble")
			j.queue.Fill(a, nil)
			j.queue.Fill(b, nil)
			continue
		}

		fileSub, metaSub := j.dereference(ctx, &log, contentURI)
		j.queue.Fill(a, fileSub)
		j.queue.Fill(b, metaSub)
	}
}

// readLine must be called with connMu held and returns with it still held;
// it is released across the blocking reconnect wait so the connection mutex
// is never held across a network fetch. err is non-nil only once ctx is
// done.
func (j *Job) readLine(ctx context.Context, log *zerolog.Logger) (string, error) {
	for {
		if j.reader == nil {
			j.connMu.Unlock()
			err := j.reconnect(ctx, log)
			j.connMu.Lock()
			if err != nil {
				return "", err
			}
			continue
		}
		line, err := j.reader.ReadString('\n')
		if err == nil {
			return strings.TrimRight(line, "\r\n"), nil
		}
		if err == io.EOF && strings.TrimSpace(line) != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		log.Warn().Err(err).Msg("pull: upstream stream closed, reconnecting")
		if j.conn != nil {
			j.conn.Close()
		}
		j.conn = nil
		j.reader = nil
	}
}

// reconnect opens a fresh query stream, retrying every reconnectDelay on
// failure, running the auth flow first when the peer demands it.
func (j *Job) reconnect(ctx context.Context, log *zerolog.Logger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		body, err := j.client.Query(ctx)
		if err != nil {
			if kinderr.Is(err, kinderr.AuthRequired) {
				if authErr := j.client.Auth(ctx); authErr != nil {
					log.Warn().Err(authErr).Msg("pull: re-auth failed")
				}
			} else {
				log.Warn().Err(err).Msg("pull: reconnect failed")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			continue
		}
		j.conn = body
		j.reader = bufio.NewReader(body)
		return nil
	}
}

// dereference turns one stream URI (a meta-file's content URI) into a
// (file, meta-file) submission pair, fetching both outside the connection
// mutex so parallel readers can download concurrently. Either half may
// come back nil, a bubble: the meta-file half is nil when it is already
// stored locally; the file half is nil when its target is already stored
// locally, isn't a parseable content URI, or the meta-file's framing
// couldn't be read enough to find a target at all.
func (j *Job) dereference(ctx context.Context, log *zerolog.Logger, metaURI uri.ContentURI) (fileSub, metaSub *Submission) {
	if known, err := j.isKnownLocally(ctx, metaURI.String(), func() (bool, error) { return j.blobs.Has(ctx, metaURI) }); err == nil && known {
		return nil, nil
	}

	metaBody, ok := j.fetchVerified(ctx, log, metaURI)
	if !ok {
		return nil, nil
	}
	metaSub = &Submission{URI: metaURI, Body: metaBody}

	targetURIStr, _, err := metafile.ScanFraming(metaBody)
	if err != nil {
		// Framing is malformed; the writer's IngestMetaFile call rediscovers
		// this and skips just this submission. Nothing to fetch as a target.
		return nil, metaSub
	}
	targetURI, err := uri.Parse(targetURIStr)
	if err != nil {
		return nil, metaSub
	}
	if known, err := j.isKnownLocally(ctx, targetURI.String(), func() (bool, error) { return j.blobs.Has(ctx, targetURI) }); err == nil && known {
		return nil, metaSub
	}

	fileBody, ok := j.fetchVerified(ctx, log, targetURI)
	if !ok {
		return nil, metaSub
	}
	return &Submission{URI: targetURI, Body: fileBody}, metaSub
}

// fetchVerified fetches and digest-verifies u, retrying any fetch or body
// read error every reconnectDelay (running the auth flow first on
// AuthRequired). ok is false either because ctx is done or the fetched
// bytes failed digest verification, which yields a bubble; neither is
// retryable.
func (j *Job) fetchVerified(ctx context.Context, log *zerolog.Logger, u uri.ContentURI) ([]byte, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		res, err := j.client.Fetch(ctx, u)
		if err != nil {
			if kinderr.Is(err, kinderr.AuthRequired) {
				if authErr := j.client.Auth(ctx); authErr != nil {
					log.Warn().Err(authErr).Msg("pull: re-auth failed")
				}
			} else {
				log.Warn().Err(err).Str("uri", u.String()).Msg("pull: fetch failed, retrying")
			}
			if !sleepOrDone(ctx) {
				return nil, false
			}
			continue
		}

		body, readErr := io.ReadAll(res.Body)
		res.Body.Close()
		if readErr != nil {
			log.Warn().Err(readErr).Str("uri", u.String()).Msg("pull: fetch body read failed, retrying")
			if !sleepOrDone(ctx) {
				return nil, false
			}
			continue
		}

		if err := uri.VerifyDigest(u, body); err != nil {
			log.Warn().Err(err).Str("uri", u.String()).Msg("pull: digest mismatch, bubble")
			return nil, false
		}
		return body, true
	}
}

func sleepOrDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(reconnectDelay):
		return true
	}
}

package storage

import (
	"context"
	"fmt"
)

const archiveColumns = `id, chat_id, user_id, username, file_id, file_name, file_type, mime_type, file_size, caption, uploaded_at`

func (r *Repository) SaveArchive(ctx context.Context, a *Archive) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO archives (chat_id, user_id, username, file_id, file_name, file_type, mime_type, file_size, caption, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ChatID, a.UserID, a.Username, a.FileID, a.FileName, a.FileType, a.MimeType, a.FileSize, a.Caption, a.UploadedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save archive: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	a.ID = id
	return nil
}

// SearchArchives returns up to limit newest files of chatID whose name or
// caption contains query. An empty query lists the latest files.
func (r *Repository) SearchArchives(ctx context.Context, chatID int64, query string, limit int) ([]*Archive, error) {
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+archiveColumns+` FROM archives
		 WHERE chat_id = ? AND (file_name LIKE ? ESCAPE '\' OR caption LIKE ? ESCAPE '\')
		 ORDER BY uploaded_at DESC, id DESC LIMIT ?`,
		chatID, pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search archives: %w", err)
	}
	defer rows.Close()

	var archives []*Archive
	for rows.Next() {
		var (
			a          Archive
			uploadedAt int64
		)
		err := rows.Scan(
			&a.ID, &a.ChatID, &a.UserID, &a.Username, &a.FileID, &a.FileName,
			&a.FileType, &a.MimeType, &a.FileSize, &a.Caption, &uploadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive: %w", err)
		}
		a.UploadedAt = fromUnix(uploadedAt)
		archives = append(archives, &a)
	}
	return archives, rows.Err()
}

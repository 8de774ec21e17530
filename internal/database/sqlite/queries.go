package sqlite

// Column orders match the shared scan helpers in package database.
const (
	presetColumns = `id, name, description, model, system_prompt, toolsets,
		environment, subagents, is_default, created_at, updated_at`

	presetInsert = `INSERT INTO presets (` + presetColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	presetGetByID = `SELECT ` + presetColumns + ` FROM presets WHERE id = ?`

	presetGetDefault = `SELECT ` + presetColumns + ` FROM presets WHERE is_default LIMIT 1`

	presetList = `SELECT ` + presetColumns + ` FROM presets ORDER BY name ASC, id ASC LIMIT ? OFFSET ?`

	presetUpdate = `UPDATE presets
		SET name = ?, description = ?, model = ?, system_prompt = ?, toolsets = ?,
			environment = ?, subagents = ?, is_default = ?, updated_at = ?
		WHERE id = ?`

	presetClearDefault = `UPDATE presets SET is_default = 0 WHERE is_default AND id <> ?`

	presetCreatedAt = `SELECT created_at FROM presets WHERE id = ?`

	presetDelete = `DELETE FROM presets WHERE id = ?`
)

const (
	workspaceColumns = `id, name, project_ids, metadata, created_at, updated_at`

	workspaceInsert = `INSERT INTO workspaces (` + workspaceColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

	workspaceGetByID = `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = ?`

	workspaceList = `SELECT ` + workspaceColumns + ` FROM workspaces ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`

	workspaceUpdate = `UPDATE workspaces
		SET name = ?, project_ids = ?, metadata = ?, updated_at = ?
		WHERE id = ?`

	workspaceCreatedAt = `SELECT created_at FROM workspaces WHERE id = ?`

	workspaceDelete = `DELETE FROM workspaces WHERE id = ?`
)

const (
	conversationColumns = `id, title, default_preset_id, metadata, status, created_at, updated_at`

	conversationInsertIfAbsent = `INSERT INTO conversations (` + conversationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	conversationGetByID = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`

	conversationList = `SELECT ` + conversationColumns + ` FROM conversations ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?`

	conversationUpdate = `UPDATE conversations
		SET title = ?, default_preset_id = ?, metadata = ?, status = ?, updated_at = ?
		WHERE id = ?`

	conversationCreatedAt = `SELECT created_at FROM conversations WHERE id = ?`

	conversationTouch = `UPDATE conversations SET updated_at = ? WHERE id = ?`
)

const (
	sessionColumns = `id, conversation_id, parent_session_id, project_ids, status,
		session_type, transport, spawned_by, preset_id, input, final_message,
		run_summary, created_at, updated_at`

	sessionInsert = `INSERT INTO sessions (` + sessionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sessionGetByID = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	sessionExists = `SELECT COUNT(1) FROM sessions WHERE id = ?`

	sessionListByConversation = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`

	sessionListWithStateByConversation = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE conversation_id = ? AND status IN ('committed', 'awaiting_tool_results')
		ORDER BY created_at ASC, id ASC`

	sessionFinalize = `UPDATE sessions
		SET status = ?, final_message = ?, run_summary = ?, updated_at = ?
		WHERE id = ? AND status = 'created'`

	sessionFailCreated = `UPDATE sessions SET status = 'failed', updated_at = ? WHERE status = 'created'`
)

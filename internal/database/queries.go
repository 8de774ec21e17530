package database

// SQL queries for the PostgreSQL repositories, grouped by entity.

// Preset queries
const (
	presetColumns = `id, name, description, model, system_prompt, toolsets,
		environment, subagents, is_default, created_at, updated_at`

	PresetInsert = `
		INSERT INTO presets (` + presetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	PresetGetByID = `SELECT ` + presetColumns + ` FROM presets WHERE id = $1`

	PresetGetDefault = `SELECT ` + presetColumns + ` FROM presets WHERE is_default LIMIT 1`

	PresetList = `
		SELECT ` + presetColumns + `
		FROM presets
		ORDER BY name ASC, id ASC
		LIMIT $1 OFFSET $2`

	PresetUpdate = `
		UPDATE presets
		SET name = $2, description = $3, model = $4, system_prompt = $5,
			toolsets = $6, environment = $7, subagents = $8, is_default = $9,
			updated_at = $10
		WHERE id = $1
		RETURNING created_at`

	// PresetClearDefault unsets the default flag on every preset but $1.
	PresetClearDefault = `UPDATE presets SET is_default = FALSE WHERE is_default AND id <> $1`

	PresetDelete = `DELETE FROM presets WHERE id = $1`
)

// Workspace queries
const (
	workspaceColumns = `id, name, project_ids, metadata, created_at, updated_at`

	WorkspaceInsert = `
		INSERT INTO workspaces (` + workspaceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	WorkspaceGetByID = `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = $1`

	WorkspaceList = `
		SELECT ` + workspaceColumns + `
		FROM workspaces
		ORDER BY created_at ASC, id ASC
		LIMIT $1 OFFSET $2`

	WorkspaceUpdate = `
		UPDATE workspaces
		SET name = $2, project_ids = $3, metadata = $4, updated_at = $5
		WHERE id = $1
		RETURNING created_at`

	WorkspaceDelete = `DELETE FROM workspaces WHERE id = $1`
)

// Conversation queries
const (
	conversationColumns = `id, title, default_preset_id, metadata, status, created_at, updated_at`

	// ConversationInsertIfAbsent lazily creates a conversation.
	ConversationInsertIfAbsent = `
		INSERT INTO conversations (` + conversationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	ConversationGetByID = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

	ConversationList = `
		SELECT ` + conversationColumns + `
		FROM conversations
		ORDER BY updated_at DESC, id ASC
		LIMIT $1 OFFSET $2`

	ConversationUpdate = `
		UPDATE conversations
		SET title = $2, default_preset_id = $3, metadata = $4, status = $5, updated_at = $6
		WHERE id = $1
		RETURNING created_at`

	// ConversationTouch bumps updated_at when a session is added.
	ConversationTouch = `UPDATE conversations SET updated_at = $2 WHERE id = $1`
)

// Session queries
const (
	sessionColumns = `id, conversation_id, parent_session_id, project_ids, status,
		session_type, transport, spawned_by, preset_id, input, final_message,
		run_summary, created_at, updated_at`

	SessionInsert = `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	SessionGetByID = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	SessionExists = `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`

	SessionListByConversation = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	SessionListWithStateByConversation = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE conversation_id = $1
		  AND status IN ('committed', 'awaiting_tool_results')
		ORDER BY created_at ASC, id ASC`

	// SessionFinalizeQuery only moves rows that are still created.
	SessionFinalizeQuery = `
		UPDATE sessions
		SET status = $2, final_message = $3, run_summary = $4, updated_at = $5
		WHERE id = $1 AND status = 'created'`

	SessionFailCreated = `
		UPDATE sessions
		SET status = 'failed', updated_at = $1
		WHERE status = 'created'`
)

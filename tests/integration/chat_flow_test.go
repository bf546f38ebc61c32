//go:build integration

package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatFlow(t *testing.T) {
	env := SetupTestEnv(t)

	// Create a session
	status, resp := PostJSON(t, env, "/api/v1/sessions", map[string]any{"title": "Family check-in"})
	require.Equal(t, http.StatusCreated, status)
	session := resp["data"].(map[string]any)
	sessionID := session["id"].(string)

	// First turn
	env.Model.setReply("Hi! How can I help with the family today?")
	status, resp = PostJSON(t, env, "/api/v1/chat", map[string]any{
		"message":    "hello",
		"model":      "test-model",
		"session_id": sessionID,
	})
	require.Equal(t, http.StatusOK, status)
	turn := resp["data"].(map[string]any)
	assert.Equal(t, "Hi! How can I help with the family today?", turn["reply"])
	assert.Equal(t, sessionID, turn["session_id"])

	// Second turn: the previous exchange must reach the model as context
	env.Model.setReply("You said hello earlier.")
	status, _ = PostJSON(t, env, "/api/v1/chat", map[string]any{
		"message":    "what did I say before?",
		"model":      "test-model",
		"session_id": sessionID,
	})
	require.Equal(t, http.StatusOK, status)

	prompt := env.Model.lastPrompt()
	require.NotEmpty(t, prompt)
	var sawHistory bool
	for _, m := range prompt {
		if strings.Contains(m.Content, "hello") && m.Content != "what did I say before?" {
			sawHistory = true
		}
	}
	assert.True(t, sawHistory, "previous turn should appear in the prompt")

	// History endpoint returns both turns
	status, resp = GetJSON(t, env, "/api/v1/sessions/"+sessionID+"/messages")
	require.Equal(t, http.StatusOK, status)
	msgs := resp["data"].([]any)
	assert.GreaterOrEqual(t, len(msgs), 4)
}

func TestChatRecordContext(t *testing.T) {
	env := SetupTestEnv(t)
	ctx := context.Background()

	recipientID := uuid.New()
	_, err := env.Pool.Exec(ctx,
		`INSERT INTO care_recipients (id, full_name, relationship, conditions, record_number)
		 VALUES ($1, 'Robert Miller', 'father', 'hypertension', 'MRN-1001')`,
		recipientID,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		env.Pool.Exec(ctx, `DELETE FROM care_recipients WHERE id = $1`, recipientID)
	})

	_, err = env.Pool.Exec(ctx,
		`INSERT INTO medications (id, recipient_id, name, dosage, schedule, active, prescriber)
		 VALUES ($1, $2, 'Lisinopril', '10mg', 'once daily', true, 'Dr. Chen')`,
		uuid.New(), recipientID,
	)
	require.NoError(t, err)

	env.Model.setReply("Your dad takes Lisinopril 10mg once daily.")
	status, _ := PostJSON(t, env, "/api/v1/chat", map[string]any{
		"message": "what medications is dad taking?",
		"model":   "test-model",
	})
	require.Equal(t, http.StatusOK, status)

	// The local adapter is full-tier: records including the sensitive
	// prescriber field must reach the system prompt.
	prompt := env.Model.lastPrompt()
	require.NotEmpty(t, prompt)
	system := prompt[0].Content
	assert.Contains(t, system, "Robert Miller")
	assert.Contains(t, system, "Lisinopril")
	assert.Contains(t, system, "Dr. Chen")
}

func TestChatStreamFlow(t *testing.T) {
	env := SetupTestEnv(t)

	env.Model.setReply("Streaming works.")
	payload, _ := json.Marshal(map[string]any{
		"message": "say something",
		"model":   "test-model",
	})

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(env.Server.URL+"/api/v1/chat/stream", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var reply strings.Builder
	var sawDone bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var event struct {
			Delta string `json:"delta"`
			Done  bool   `json:"done"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		reply.WriteString(event.Delta)
		if event.Done {
			sawDone = true
		}
	}
	assert.Equal(t, "Streaming works.", reply.String())
	assert.True(t, sawDone)
}

func TestListModels(t *testing.T) {
	env := SetupTestEnv(t)

	status, resp := GetJSON(t, env, "/api/v1/models")
	require.Equal(t, http.StatusOK, status)
	models := resp["data"].([]any)
	require.Len(t, models, 1)
	model := models[0].(map[string]any)
	assert.Equal(t, "test-model", model["id"])
	assert.Equal(t, "local", model["kind"])
}

func TestChatUnknownModel(t *testing.T) {
	env := SetupTestEnv(t)

	status, _ := PostJSON(t, env, "/api/v1/chat", map[string]any{
		"message": "hi",
		"model":   "missing-model",
	})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthEndpoints(t *testing.T) {
	env := SetupTestEnv(t)

	status, _ := GetJSON(t, env, "/health/live")
	assert.Equal(t, http.StatusOK, status)

	status, resp := GetJSON(t, env, "/health/ready")
	assert.Equal(t, http.StatusOK, status)
	health := resp["data"].(map[string]any)
	assert.Equal(t, "healthy", health["database"])
	assert.Equal(t, "healthy", health["redis"])
	assert.Equal(t, "not configured", health["nats"])
}

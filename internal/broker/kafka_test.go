package appkafka

import (
	"testing"

	"example.com/communityfeed/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

func TestPublish_RoundTrip(t *testing.T) {
	mk := &MockKafka{}
	post := models.Post{ID: "p1", AuthorID: "u1", Title: "hello"}

	require.NoError(t, Publish(mk, models.EventPostCreated, models.TablePosts, post))

	written := mk.Written()
	require.Len(t, written, 1)
	require.Equal(t, models.TablePosts, string(written[0].Key))

	ev, err := DecodeEvent(written[0])
	require.NoError(t, err)
	require.Equal(t, models.EventPostCreated, ev.Type)
	require.Equal(t, models.TablePosts, ev.Table)
	require.JSONEq(t, `{"id":"p1","author_id":"u1","title":"hello","content":"","views":0,"created":"0001-01-01T00:00:00Z"}`, string(ev.Record))
}

func TestPublish_Failures(t *testing.T) {
	require.Error(t, Publish(nil, models.EventPostCreated, models.TablePosts, models.Post{}))
	require.Error(t, Publish(&MockKafkaFail{}, models.EventPostCreated, models.TablePosts, models.Post{}))
}

func TestDecodeEvent_Rejects(t *testing.T) {
	_, err := DecodeEvent(kafka.Message{Value: []byte("not json")})
	require.Error(t, err)
	_, err = DecodeEvent(kafka.Message{Value: []byte(`{"type":"post_created"}`)})
	require.Error(t, err)
}

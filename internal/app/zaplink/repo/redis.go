package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gdg-charusat/zaplink/internal/app/zaplink"
	"github.com/redis/go-redis/v9"
)

// Redis 键布局：
//
//	zl:seq:link        INCR 分配 id
//	zl:link:{code}     HASH 链接本体
//	zl:owner:{userID}  ZSET member=code score=id
//	zl:expiring        ZSET member=code score=过期时间(ms)，给 SweepExpired 用
const (
	redisSeqKey      = "zl:seq:link"
	redisLinkPrefix  = "zl:link:"
	redisOwnerPrefix = "zl:owner:"
	redisExpiringKey = "zl:expiring"
)

// consumeScript 在 Redis 内单线程执行：检查 + HINCRBY + 打墓碑不会被其它命令插入。
// 返回 {0}=不存在 {1}=已耗尽/已过期 {2, HGETALL...}=放行
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return {0} end
if redis.call('HEXISTS', KEYS[1], 'exhausted') == 1 then return {1} end
local now = tonumber(ARGV[1])
local kind = tonumber(redis.call('HGET', KEYS[1], 'kind'))
if kind == 1 then
  local max = tonumber(redis.call('HGET', KEYS[1], 'max'))
  local views = tonumber(redis.call('HGET', KEYS[1], 'views'))
  if views >= max then
    redis.call('HSET', KEYS[1], 'exhausted', ARGV[1])
    return {1}
  end
  views = redis.call('HINCRBY', KEYS[1], 'views', 1)
  if views >= max then redis.call('HSET', KEYS[1], 'exhausted', ARGV[1]) end
elseif kind == 2 then
  local exp = tonumber(redis.call('HGET', KEYS[1], 'exp'))
  if now >= exp then
    redis.call('HSET', KEYS[1], 'exhausted', ARGV[1])
    return {1}
  end
  redis.call('HINCRBY', KEYS[1], 'views', 1)
else
  redis.call('HINCRBY', KEYS[1], 'views', 1)
end
local r = redis.call('HGETALL', KEYS[1])
table.insert(r, 1, 2)
return r
`)

// revokeScript 返回 0=不存在 1=已耗尽 2=成功
var revokeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('HEXISTS', KEYS[1], 'exhausted') == 1 then return 1 end
redis.call('HSET', KEYS[1], 'exhausted', ARGV[1])
return 2
`)

// sweepScript 在脚本里拼接链接 key，只适用于单实例 Redis（不兼容 Cluster）。
// 返回 {扫描数, 新打墓碑的 code...}；已被 ConsumeView 惰性打过墓碑的只出队，不计入结果。
var sweepScript = redis.NewScript(`
local codes = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {#codes}
for _, c in ipairs(codes) do
  redis.call('ZREM', KEYS[1], c)
  local k = ARGV[3] .. c
  if redis.call('EXISTS', k) == 1 and redis.call('HEXISTS', k, 'exhausted') == 0 then
    redis.call('HSET', k, 'exhausted', ARGV[1])
    table.insert(out, c)
  end
end
return out
`)

// RedisStore 是 Link Registry 的 Redis 实现，适合没有 Postgres 的轻量部署。
type RedisStore struct {
	client *redis.Client
	codec  *zaplink.Codec
}

func NewRedisStore(client *redis.Client, codec *zaplink.Codec) *RedisStore {
	return &RedisStore{client: client, codec: codec}
}

func linkKey(code string) string { return redisLinkPrefix + code }

func ownerKey(id int64) string { return redisOwnerPrefix + strconv.FormatInt(id, 10) }

func (s *RedisStore) Create(ctx context.Context, nl zaplink.NewLink) (zaplink.Link, error) {
	if err := nl.Validate(); err != nil {
		return zaplink.Link{}, err
	}
	id, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return zaplink.Link{}, err
	}
	code, err := s.codec.Encode(uint64(id))
	if err != nil {
		return zaplink.Link{}, err
	}
	link := nl.Build(id, code)

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, linkKey(code), encodeLink(link))
		if link.OwnerID != nil {
			p.ZAdd(ctx, ownerKey(*link.OwnerID), redis.Z{Score: float64(id), Member: code})
		}
		if link.Policy.Kind == zaplink.PolicyExpiresAt {
			p.ZAdd(ctx, redisExpiringKey, redis.Z{Score: float64(link.Policy.ExpiresAt.UnixMilli()), Member: code})
		}
		return nil
	})
	if err != nil {
		return zaplink.Link{}, err
	}
	return link, nil
}

func (s *RedisStore) Get(ctx context.Context, code string) (zaplink.Link, error) {
	fields, err := s.client.HGetAll(ctx, linkKey(code)).Result()
	if err != nil {
		return zaplink.Link{}, err
	}
	if len(fields) == 0 {
		return zaplink.Link{}, zaplink.ErrNotFound
	}
	return decodeLink(code, fields)
}

func (s *RedisStore) ConsumeView(ctx context.Context, code string, now time.Time) (zaplink.Link, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{linkKey(code)}, now.UnixMilli()).Slice()
	if err != nil {
		return zaplink.Link{}, err
	}
	if len(res) == 0 {
		return zaplink.Link{}, fmt.Errorf("consume view: empty script result")
	}
	status, _ := res[0].(int64)
	switch status {
	case 0:
		return zaplink.Link{}, zaplink.ErrNotFound
	case 1:
		return zaplink.Link{}, zaplink.ErrExpired
	}

	fields := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}
	return decodeLink(code, fields)
}

func (s *RedisStore) Revoke(ctx context.Context, code string, now time.Time) error {
	status, err := revokeScript.Run(ctx, s.client, []string{linkKey(code)}, now.UnixMilli()).Int()
	if err != nil {
		return err
	}
	switch status {
	case 0:
		return zaplink.ErrNotFound
	case 1:
		return zaplink.ErrAlreadyExhausted
	}
	return nil
}

// SweepExpired 一直扫到凑满 limit 个或队列里没有到期的 code，
// 否则一批全是已失效的 code 时 Sweeper 会以为扫完了。
func (s *RedisStore) SweepExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	var swept []string
	for len(swept) < limit {
		want := limit - len(swept)
		res, err := sweepScript.Run(ctx, s.client, []string{redisExpiringKey}, now.UnixMilli(), want, redisLinkPrefix).Slice()
		if err != nil {
			return swept, fmt.Errorf("sweep expired: %w", err)
		}
		if len(res) == 0 {
			return swept, fmt.Errorf("sweep expired: unexpected empty result")
		}
		scanned, _ := res[0].(int64)
		for _, v := range res[1:] {
			if code, ok := v.(string); ok {
				swept = append(swept, code)
			}
		}
		if scanned < int64(want) {
			break
		}
	}
	return swept, nil
}

func (s *RedisStore) ListByOwner(ctx context.Context, ownerID int64, limit int) ([]zaplink.Link, error) {
	if limit <= 0 {
		return nil, nil
	}
	codes, err := s.client.ZRevRange(ctx, ownerKey(ownerID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(codes))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, code := range codes {
			cmds[i] = p.HGetAll(ctx, linkKey(code))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]zaplink.Link, 0, len(codes))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		link, err := decodeLink(codes[i], fields)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, nil
}

func (s *RedisStore) OwnsLink(ctx context.Context, ownerID int64, code string) (bool, error) {
	_, err := s.client.ZScore(ctx, ownerKey(ownerID), code).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) EachCode(ctx context.Context, fn func(code string)) error {
	iter := s.client.Scan(ctx, 0, redisLinkPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		fn(iter.Val()[len(redisLinkPrefix):])
	}
	return iter.Err()
}

func encodeLink(l zaplink.Link) map[string]any {
	m := map[string]any{
		"id":       l.ID,
		"name":     l.Name,
		"artifact": string(l.ArtifactRef),
		"file":     l.FileName,
		"ctype":    l.ContentType,
		"size":     l.Size,
		"pw":       l.PasswordHash,
		"kind":     int(l.Policy.Kind),
		"views":    l.ViewCount,
		"created":  l.CreatedAt.UnixMilli(),
	}
	switch l.Policy.Kind {
	case zaplink.PolicyMaxViews:
		m["max"] = l.Policy.MaxViews
	case zaplink.PolicyExpiresAt:
		m["exp"] = l.Policy.ExpiresAt.UnixMilli()
	}
	if l.OwnerID != nil {
		m["owner"] = *l.OwnerID
	}
	if l.ExhaustedAt != nil {
		m["exhausted"] = l.ExhaustedAt.UnixMilli()
	}
	return m
}

func decodeLink(code string, f map[string]string) (zaplink.Link, error) {
	var err error
	intField := func(name string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = strconv.ParseInt(f[name], 10, 64)
		if err != nil {
			err = fmt.Errorf("link %s: field %s: %w", code, name, err)
		}
		return v
	}

	l := zaplink.Link{
		Code:         code,
		Name:         f["name"],
		ArtifactRef:  zaplink.ArtifactRef(f["artifact"]),
		FileName:     f["file"],
		ContentType:  f["ctype"],
		PasswordHash: f["pw"],
	}
	l.ID = intField("id")
	l.Size = intField("size")
	l.ViewCount = intField("views")
	l.CreatedAt = time.UnixMilli(intField("created")).UTC()

	switch zaplink.PolicyKind(intField("kind")) {
	case zaplink.PolicyMaxViews:
		l.Policy = zaplink.MaxViews(intField("max"))
	case zaplink.PolicyExpiresAt:
		l.Policy = zaplink.ExpiresAt(time.UnixMilli(intField("exp")).UTC())
	default:
		l.Policy = zaplink.Unlimited()
	}
	if _, ok := f["owner"]; ok {
		owner := intField("owner")
		l.OwnerID = &owner
	}
	if _, ok := f["exhausted"]; ok {
		at := time.UnixMilli(intField("exhausted")).UTC()
		l.ExhaustedAt = &at
	}
	if err != nil {
		return zaplink.Link{}, err
	}
	return l, nil
}

package sqlinline

const QEnsureProcessingJobsTable = `--sql 3f6c2a9e-8b41-4d7a-9c15-2e7b0d4f6a83
create table if not exists processing_jobs (
    id uuid primary key,
    request_id text not null default '',
    origin text not null,
    original_name text not null default '',
    source_url text not null default '',
    state text not null,
    error text not null default '',
    created_at timestamptz not null,
    finished_at timestamptz
)
`

const QEnsureProcessingJobsIndex = `--sql 5e0b9d27-1c64-4a8f-a3e2-d8f41b7c0a96
create index if not exists processing_jobs_created_at_idx on processing_jobs (created_at desc)
`

const QUpsertProcessingJob = `--sql 9a1d7c3b-52e8-4f0b-b6a4-71c8e3d2f905
insert into processing_jobs (id, request_id, origin, original_name, source_url, state, error, created_at, finished_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
on conflict (id) do update set
    state = excluded.state,
    error = excluded.error,
    finished_at = excluded.finished_at
`

const QListProcessingJobs = `--sql c47e0b15-9f3a-4e62-8d0c-b5a9163f2e7d
select id::text, request_id, origin, original_name, source_url, state, error, created_at, coalesce(finished_at, created_at)
from processing_jobs
where ($2::text = '' or state = $2::text)
order by created_at desc
limit $1
`

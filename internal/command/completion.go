// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/meta"
)

const bashCompletionScript = `# bash completion for credctl
# Fallback if bash-completion is not installed
if ! declare -F _get_comp_words_by_ref >/dev/null 2>&1; then
  _get_comp_words_by_ref() {
    cur=${COMP_WORDS[COMP_CWORD]}
    prev=${COMP_WORDS[COMP_CWORD-1]}
  }
fi

_credctl()
{
    local cur prev cmd
    COMPREPLY=()
    _get_comp_words_by_ref -n : cur prev

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=( $(compgen -W "plan apply destroy verify workflow output sq svq completion --help --version" -- "$cur") )
        return 0
    fi

    cmd=${COMP_WORDS[1]}
  local common="--attrs -a --color -c --filter -f --local --output -o --sort -s --titles -t --tldr"
  local backend="--host -h --org --workspace -w"
  local aws="--profile --region"

    # Determine if an optional RootDir (first non-flag after subcommand) has already been provided
    local have_rootdir=0
    local idx=2
    while [[ $idx -lt ${#COMP_WORDS[@]} ]]; do
        local w=${COMP_WORDS[$idx]}
        if [[ $w != -* ]]; then
            have_rootdir=1
            break
        fi
        ((idx++))
    done

    case "$cmd" in
    plan)
      local opts="$backend $aws --detailed-exitcode --no-refresh --rotate-key --tldr"
            ;;
        apply)
      local opts="$backend $aws --no-refresh --rotate-key --tldr"
            ;;
        destroy)
      local opts="$backend $aws --tldr"
            ;;
        verify)
      local opts="$backend $aws --bucket -b --source --tldr"
            ;;
        workflow)
      local opts="--branches --name --out --region --tldr"
            ;;
        output)
      local opts="$common $backend --reveal --sv"
            ;;
        sq)
      local opts="$common $backend --chop --concrete -k --diff --noshort --reveal --sv --limit"
            ;;
        svq)
      local opts="$common $backend --schema --limit -l"
            ;;
        completion)
            local opts="bash zsh"
            COMPREPLY=( $(compgen -W "$opts" -- "$cur") )
            return 0
            ;;
        *)
            local opts="$common"
            ;;
    esac

    if [[ "$prev" == "--output" || "$prev" == "-o" ]]; then
        COMPREPLY=( $(compgen -W "text json raw yaml" -- "$cur") )
        return 0
    fi

    if [[ "$prev" == "--source" ]]; then
        COMPREPLY=( $(compgen -W "state env" -- "$cur") )
        return 0
    fi

  # If current token starts with '-', or we've already consumed RootDir, offer flags
  if [[ "$cur" == -* || $have_rootdir -eq 1 ]]; then
    COMPREPLY=( $(compgen -W "$opts" -- "$cur") )
    return 0
  fi

  # Otherwise we're on the (optional) RootDir positional, so complete directories
  COMPREPLY=( $(compgen -o dirnames -- "$cur") )
  return 0
}

complete -F _credctl credctl
`

const zshCompletionScript = `#compdef credctl

_credctl() {
  local -a cmds
  cmds=(
    'plan:show the changes an apply would make'
    'apply:provision the IAM user, key and secrets'
    'destroy:tear down the tracked resources'
    'verify:check the key pair with an S3 listing'
    'workflow:emit the CI verification workflow'
    'output:print state outputs'
    'sq:state query'
    'svq:state version query'
    'completion:generate shell completion script'
  )

  local -a common
  common=(
  '(-a --attrs)'{-a,--attrs}'[attributes to include]:attrs'
  '(-c --color)'{-c,--color}'[enable colored text]'
  '(-f --filter)'{-f,--filter}'[filters to apply]:filters'
  '--local[timestamps in local time]'
  '(-o --output)'{-o,--output}'[output format]:format:(text json raw yaml)'
  '(-s --sort)'{-s,--sort}'[sort attributes]:attrs'
  '(-t --titles)'{-t,--titles}'[show titles]'
  '--tldr[show tldr page]'
  )

  local -a backend
  backend=(
  '(-h --host)'{-h,--host}'[TFE host]' \
  '--org[TFE organization]' \
  '(-w --workspace)'{-w,--workspace}'[workspace]'
  )

  local -a aws
  aws=(
  '--profile[AWS profile]' \
  '--region[AWS region]'
  )

  if (( CURRENT == 2 )); then
    _describe -t commands 'credctl commands' cmds
    return
  fi

  local curcontext="$curcontext" state line
  case $words[2] in
    plan)
      _arguments -C \
        $backend $aws \
        '--detailed-exitcode[exit 2 when changes pend]' \
        '--no-refresh[trust the state document]' \
        '--rotate-key[plan a key rotation]' \
        '--tldr[show tldr page]' \
        '::RootDir:_directories'
      ;;
    apply)
      _arguments -C \
        $backend $aws \
        '--no-refresh[trust the state document]' \
        '--rotate-key[rotate the access key]' \
        '--tldr[show tldr page]' \
        '::RootDir:_directories'
      ;;
    destroy)
      _arguments -C \
        $backend $aws \
        '--tldr[show tldr page]' \
        '::RootDir:_directories'
      ;;
    verify)
      _arguments -C \
        $backend $aws \
        '(-b --bucket)'{-b,--bucket}'[bucket to list]' \
        '--source[credential source]:source:(state env)' \
        '--tldr[show tldr page]' \
        '::RootDir:_directories'
      ;;
    workflow)
      _arguments -C \
        '--branches[branch filter]' \
        '--name[workflow name]' \
        '--out[output file]:file:_files' \
        '--region[AWS region]' \
        '--tldr[show tldr page]' \
        '::RootDir:_directories'
      ;;
    output)
      _arguments -C \
        $common $backend \
        '--reveal[emit sensitive values]' \
        '--sv[state version]' \
        '::RootDir:_directories'
      ;;
    sq)
      _arguments -C \
        $common $backend \
        '--chop[chop common resource prefix]' \
        '--concrete[only concrete resources]' \
        '--diff[diff between state versions]' \
        '--noshort[full resource paths]' \
        '--reveal[emit sensitive values]' \
        '--sv[state version]' \
        '--limit[limit results]' \
        '::RootDir:_directories'
      ;;
    svq)
      _arguments -C \
        $common $backend \
        '--schema[dump schema]' \
        '--limit[-l][limit results]' \
        '::RootDir:_directories'
      ;;
    completion)
      _arguments '1: :((bash zsh))'
      ;;
    *)
      _arguments -C $common '*:directory:_directories'
      ;;
  esac
}

# If this file is sourced directly (not autoloaded via fpath), ensure compsys is initialized and register the completion
if ! typeset -f compdef >/dev/null 2>&1; then
  autoload -Uz compinit && compinit -i
fi
compdef _credctl credctl credctlgo
`

func CompletionCommandAction(ctx context.Context, cmd *cli.Command) error {
	shell := ""
	if args := cmd.Args().Slice(); len(args) > 0 {
		shell = args[0]
	}
	switch shell {
	case "bash":
		fmt.Fprint(os.Stdout, bashCompletionScript)
	case "zsh":
		fmt.Fprint(os.Stdout, zshCompletionScript)
	default:
		// Try to detect from SHELL or print help
		sh := os.Getenv("SHELL")
		if strings.HasSuffix(sh, "zsh") {
			fmt.Fprint(os.Stdout, zshCompletionScript)
		} else if strings.HasSuffix(sh, "bash") {
			fmt.Fprint(os.Stdout, bashCompletionScript)
		} else {
			fmt.Fprintln(os.Stderr, "usage: credctl completion [bash|zsh]")
			return nil
		}
	}
	return nil
}

func CompletionCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "completion",
		Usage:     "generate shell completion script",
		UsageText: "credctl completion [bash|zsh]",
		Metadata: map[string]any{
			"meta": meta,
		},
		Action: CompletionCommandAction,
	}
}
